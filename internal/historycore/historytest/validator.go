package historytest

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermint/historycore/internal/historycore/archive"
	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
	"github.com/ledgermint/historycore/internal/historycore/has"
	"github.com/ledgermint/historycore/internal/historycore/node"
)

// Validator asserts that two LedgerManagers -- typically a Driver's
// producer and a consumer that caught up against the same archive --
// agree on the ledgers they both claim to have closed.
type Validator struct {
	t *testing.T
}

func NewValidator(t *testing.T) *Validator {
	return &Validator{t: t}
}

// AssertSynced checks that consumer has replayed exactly as far as
// producer and landed on the identical hash -- the basic correctness bar
// for any catchup path.
func (v *Validator) AssertSynced(producer, consumer node.LedgerManager) {
	v.t.Helper()
	assert.Equal(v.t, producer.LastClosedLedger(), consumer.LastClosedLedger(),
		"producer and consumer disagree on last closed ledger")
	assert.Equal(v.t, producer.LastClosedHash(), consumer.LastClosedHash(),
		"producer and consumer disagree on the hash of their last closed ledger")
	assert.Equal(v.t, node.StateSynced, consumer.State())
}

// AssertCheckpointPublished checks that the archive actually holds the
// HAS, header, and transaction files for the checkpoint ending at ledger.
func (v *Validator) AssertCheckpointPublished(a *archive.MockArchive, ledger uint32) {
	v.t.Helper()
	assert.True(v.t, a.Has(archive.HASPath(ledger)), "missing HAS for checkpoint %d", ledger)
	assert.True(v.t, a.Has(archive.LedgerHeaderPath(ledger)), "missing ledger headers for checkpoint %d", ledger)
	assert.True(v.t, a.Has(archive.TransactionsPath(ledger)), "missing transaction sets for checkpoint %d", ledger)
}

// AssertBalances checks gen's current balances exactly, by value -- a
// replayed node has no ledger-entry store of its own in this module, so
// the generator's own bookkeeping is the oracle.
func (v *Validator) AssertBalances(gen *LedgerGenerator, expected map[string]int64) {
	v.t.Helper()
	assert.Equal(v.t, expected, gen.Balances())
}

// AssertAccountState checks gen's current balance and sequence number for
// account exactly, by value.
func (v *Validator) AssertAccountState(gen *LedgerGenerator, account string, wantBalance int64, wantSeqNum uint32) {
	v.t.Helper()
	balances := gen.Balances()
	seqNums := gen.SeqNums()
	assert.Equal(v.t, wantBalance, balances[account], "unexpected balance for %s", account)
	assert.Equal(v.t, wantSeqNum, seqNums[account], "unexpected sequence number for %s", account)
}

// AssertLedgerRecordChained checks that gen's recorded entry for seq was
// actually backfilled with a real close's hash, and that its bucket-list
// hash is exactly the hash of its own level-0 bucket -- the relationship
// PlaceholderCloseAlgorithm's BucketListHash (sha256 of the raw tx set) and
// the generator's BucketLvl0 (sha256 of that same tx set) are defined to
// satisfy.
func (v *Validator) AssertLedgerRecordChained(rec LedgerRecord) {
	v.t.Helper()
	assert.False(v.t, rec.Hash.IsZero(), "ledger %d was never backfilled with a closed hash", rec.Seq)
	assert.Equal(v.t, has.Hash(rec.BucketLvl0), rec.BucketListHash,
		"ledger %d bucket-list hash does not match its level-0 bucket", rec.Seq)
}

// AssertArchiveHostsGeneratedBuckets fetches every bucket gen produced
// through seq from a and checks its content still hashes to the address it
// was stored under -- the same content-addressing guarantee Applier checks
// during a real bucket state-jump, asserted here directly against the
// generator's own bookkeeping.
func (v *Validator) AssertArchiveHostsGeneratedBuckets(ctx context.Context, a *archive.MockArchive, gen *LedgerGenerator, through uint32) {
	v.t.Helper()
	for _, rec := range gen.Log() {
		if rec.Seq > through {
			break
		}
		for _, b := range []has.Bucket{rec.BucketLvl0, rec.BucketLvl2} {
			raw, err := a.GetFile(ctx, archive.BucketPath(b))
			require.NoError(v.t, err, "bucket %s for ledger %d missing from archive", b, rec.Seq)
			assert.Equal(v.t, b, has.Bucket(sha256.Sum256(raw)), "bucket %s for ledger %d no longer hashes to its own address", b, rec.Seq)
		}
	}
}

// AssertAtCheckpointBoundary is a guard for tests that want to construct a
// scenario at an exact checkpoint edge; it fails loudly rather than
// silently testing the wrong boundary if freq's arithmetic and the test's
// assumption about it ever drift apart.
func AssertAtCheckpointBoundary(t *testing.T, freq checkpoint.Frequency, ledger uint32) {
	t.Helper()
	assert.True(t, freq.IsCheckpoint(ledger), "ledger %d is not a checkpoint boundary for frequency %d", ledger, freq)
}
