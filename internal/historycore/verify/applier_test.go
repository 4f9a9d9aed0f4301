package verify

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermint/historycore/internal/historycore/archive"
	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
	"github.com/ledgermint/historycore/internal/historycore/filefmt"
	"github.com/ledgermint/historycore/internal/historycore/has"
)

type fakeLedgerManager struct {
	lcl            uint32
	lclHash        has.Hash
	expected       []has.LedgerHeaderHistoryEntry
	applied        []uint32
	forceBadHashAt uint32
	adopted        *has.HistoryArchiveState
}

func (f *fakeLedgerManager) LastClosedLedger() uint32 { return f.lcl }
func (f *fakeLedgerManager) LastClosedHash() has.Hash { return f.lclHash }

func (f *fakeLedgerManager) CloseLedger(_ context.Context, _ []byte) (has.Hash, error) {
	seq := f.lcl + 1
	f.applied = append(f.applied, seq)

	var entry has.LedgerHeaderHistoryEntry
	for _, e := range f.expected {
		if e.LedgerSeq == seq {
			entry = e
			break
		}
	}

	result := entry.Hash
	if seq == f.forceBadHashAt {
		result[0] ^= 0xff
	}
	f.lcl = seq
	f.lclHash = result
	return result, nil
}

func (f *fakeLedgerManager) AdoptBucketList(_ context.Context, state has.HistoryArchiveState) error {
	f.lcl = state.CurrentLedger
	f.adopted = &state
	return nil
}

func putTxSets(t *testing.T, mock *archive.MockArchive, checkpointEnd, first, last uint32) {
	t.Helper()
	sets := make([][]byte, 0, last-first+1)
	for seq := first; seq <= last; seq++ {
		sets = append(sets, []byte{byte(seq)})
	}
	raw, err := filefmt.EncodeTransactionSets(first, sets)
	require.NoError(t, err)
	require.NoError(t, mock.PutFile(context.Background(), archive.TransactionsPath(checkpointEnd), raw))
}

func TestApplyBucketsAdoptsStateAndMovesLCL(t *testing.T) {
	mock := archive.NewMockArchive()
	putHAS(t, mock, 15, has.CurrentHistoryFormatVersion)

	lm := &fakeLedgerManager{}
	ap := NewApplier(checkpoint.Frequency(8))
	result, err := ap.ApplyBuckets(context.Background(), mock, 15, lm)
	require.NoError(t, err)
	assert.Equal(t, KindNone, result.Kind)
	assert.Equal(t, uint32(15), lm.lcl)
	require.NotNil(t, lm.adopted)
	assert.Equal(t, uint32(15), lm.adopted.CurrentLedger)
}

func putHASWithBucket(t *testing.T, mock *archive.MockArchive, ledger uint32, b has.Bucket) {
	t.Helper()
	levels := make([]has.BucketListLevel, has.NumLevels)
	levels[0] = has.BucketListLevel{Curr: b}
	state := has.NewHAS(ledger, levels, "test")
	text, err := state.MarshalText()
	require.NoError(t, err)
	require.NoError(t, mock.PutFile(context.Background(), archive.HASPath(ledger), []byte(text)))
}

func TestApplyBucketsRejectsHashMismatchedBucketContent(t *testing.T) {
	mock := archive.NewMockArchive()
	contents := []byte("applier-bucket")
	b := has.Bucket(sha256.Sum256(contents))
	require.NoError(t, mock.PutFile(context.Background(), archive.BucketPath(b), contents))
	mock.InjectFault(archive.BucketPath(b), archive.FaultHashMismatch)
	putHASWithBucket(t, mock, 15, b)

	lm := &fakeLedgerManager{}
	ap := NewApplier(checkpoint.Frequency(8))
	result, err := ap.ApplyBuckets(context.Background(), mock, 15, lm)
	require.Error(t, err)
	assert.Equal(t, KindHashMismatch, result.Kind)
	assert.Nil(t, lm.adopted, "a bucket that fails validation must not be adopted")
}

func TestApplyBucketsRejectsMissingBucketFile(t *testing.T) {
	mock := archive.NewMockArchive()
	contents := []byte("applier-bucket")
	b := has.Bucket(sha256.Sum256(contents))
	require.NoError(t, mock.PutFile(context.Background(), archive.BucketPath(b), contents))
	mock.InjectFault(archive.BucketPath(b), archive.FaultNotUploaded)
	putHASWithBucket(t, mock, 15, b)

	lm := &fakeLedgerManager{}
	ap := NewApplier(checkpoint.Frequency(8))
	result, err := ap.ApplyBuckets(context.Background(), mock, 15, lm)
	require.Error(t, err)
	assert.Equal(t, KindMissingFile, result.Kind)
	assert.Nil(t, lm.adopted)
}

func TestApplyBucketsAcceptsValidBucketContent(t *testing.T) {
	mock := archive.NewMockArchive()
	contents := []byte("applier-bucket")
	b := has.Bucket(sha256.Sum256(contents))
	require.NoError(t, mock.PutFile(context.Background(), archive.BucketPath(b), contents))
	putHASWithBucket(t, mock, 15, b)

	lm := &fakeLedgerManager{}
	ap := NewApplier(checkpoint.Frequency(8))
	result, err := ap.ApplyBuckets(context.Background(), mock, 15, lm)
	require.NoError(t, err)
	assert.Equal(t, KindNone, result.Kind)
	require.NotNil(t, lm.adopted)
	assert.Equal(t, b, lm.adopted.Levels[0].Curr)
}

func TestApplyBucketsRejectsMismatchedCurrentLedger(t *testing.T) {
	mock := archive.NewMockArchive()
	putHAS(t, mock, 15, has.CurrentHistoryFormatVersion) // CurrentLedger field stored as 15

	lm := &fakeLedgerManager{}
	ap := NewApplier(checkpoint.Frequency(8))
	_, err := ap.ApplyBuckets(context.Background(), mock, 16, lm) // asked for a different anchor
	assert.Error(t, err)
}

func TestApplyTransactionsReplaysRangeAcrossCheckpoints(t *testing.T) {
	chain := buildChain(1, 15, has.Hash{})
	mock := archive.NewMockArchive()
	putHeaders(t, mock, 7, sliceOf(chain, 1, 7))
	putHeaders(t, mock, 15, sliceOf(chain, 8, 15))
	putTxSets(t, mock, 7, 1, 7)
	putTxSets(t, mock, 15, 8, 15)

	lm := &fakeLedgerManager{expected: chain}
	ap := NewApplier(checkpoint.Frequency(8))
	result, err := ap.ApplyTransactions(context.Background(), mock, has.LedgerRange{First: 1, Last: 15}, lm)
	require.NoError(t, err)
	assert.Equal(t, uint32(15), result.LedgersApplied)
	assert.Equal(t, uint32(15), lm.lcl)
	assert.Equal(t, chain[14].Hash, lm.lclHash)
}

func TestApplyTransactionsSkipsAlreadyClosedLedgers(t *testing.T) {
	chain := buildChain(1, 15, has.Hash{})
	mock := archive.NewMockArchive()
	putHeaders(t, mock, 7, sliceOf(chain, 1, 7))
	putHeaders(t, mock, 15, sliceOf(chain, 8, 15))
	putTxSets(t, mock, 7, 1, 7)
	putTxSets(t, mock, 15, 8, 15)

	lm := &fakeLedgerManager{expected: chain, lcl: 5, lclHash: chain[4].Hash}
	ap := NewApplier(checkpoint.Frequency(8))
	result, err := ap.ApplyTransactions(context.Background(), mock, has.LedgerRange{First: 1, Last: 15}, lm)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), result.LedgersApplied, "ledgers 1-5 were already closed and must not be replayed")
	assert.Equal(t, []uint32{6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, lm.applied)
}

func TestApplyTransactionsDetectsPostCloseHashMismatch(t *testing.T) {
	chain := buildChain(1, 15, has.Hash{})
	mock := archive.NewMockArchive()
	putHeaders(t, mock, 7, sliceOf(chain, 1, 7))
	putHeaders(t, mock, 15, sliceOf(chain, 8, 15))
	putTxSets(t, mock, 7, 1, 7)
	putTxSets(t, mock, 15, 8, 15)

	lm := &fakeLedgerManager{expected: chain, forceBadHashAt: 10}
	ap := NewApplier(checkpoint.Frequency(8))
	result, err := ap.ApplyTransactions(context.Background(), mock, has.LedgerRange{First: 1, Last: 15}, lm)
	require.Error(t, err)
	assert.Equal(t, KindHashMismatch, result.Kind)
	assert.Equal(t, uint32(10), result.FailedAt)
	assert.Equal(t, uint32(9), result.LedgersApplied)
}
