package historytest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermint/historycore/internal/historycore/archive"
	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
	"github.com/ledgermint/historycore/internal/historycore/has"
)

func TestDriverCatchupReproducesProducerState(t *testing.T) {
	freq := checkpoint.Frequency(8)
	gen := NewLedgerGenerator(1, 5, 1000)
	driver := NewDriver(t, freq, gen)

	ctx := context.Background()
	require.NoError(t, driver.CrankUntil(ctx, 23))

	consumer := driver.NewConsumer(t)
	err := consumer.StartCatchup(ctx, has.CatchupConfiguration{ToLedger: 23, Recent: has.RecentComplete})
	require.NoError(t, err)

	v := NewValidator(t)
	v.AssertSynced(driver.Producer(), consumer)
	v.AssertCheckpointPublished(driver.Archive, 23)
}

func TestDriverCatchupTracksAccountCreationAndLedgerChaining(t *testing.T) {
	freq := checkpoint.Frequency(8)
	gen := NewLedgerGenerator(3, 4, 1000)
	driver := NewDriver(t, freq, gen)

	ctx := context.Background()
	require.NoError(t, driver.CrankUntil(ctx, 15))

	v := NewValidator(t)
	accounts := gen.Accounts()
	assert.GreaterOrEqual(t, len(accounts), 2, "at least one CreateAccount op must have run by ledger 15")
	assert.LessOrEqual(t, len(accounts), 4, "the generator must never introduce more than numAccounts accounts")

	for _, rec := range gen.Log() {
		v.AssertLedgerRecordChained(rec)
	}
	v.AssertArchiveHostsGeneratedBuckets(ctx, driver.Archive, gen, 15)

	balances := gen.Balances()
	var total int64
	for _, bal := range balances {
		total += bal
	}
	assert.Equal(t, int64(4*1000), total, "payments and account creation only move balance between known accounts")
}

func TestDriverCatchupAfterLateJoinBucketJump(t *testing.T) {
	freq := checkpoint.Frequency(8)
	gen := NewLedgerGenerator(2, 5, 1000)
	driver := NewDriver(t, freq, gen)

	ctx := context.Background()
	require.NoError(t, driver.CrankUntil(ctx, 39))

	consumer := driver.NewConsumer(t)
	err := consumer.StartCatchup(ctx, has.CatchupConfiguration{ToLedger: 30, Recent: 8})
	require.NoError(t, err)

	require.Equal(t, uint32(30), consumer.LastClosedLedger())
}

func TestBucketGeneratorFaultsAreObservedOnGetFile(t *testing.T) {
	a := archive.NewMockArchive()
	g := NewBucketGenerator()
	ctx := context.Background()

	okBucket, err := g.Put(ctx, a, ContentsOK)
	require.NoError(t, err)
	_, err = a.GetFile(ctx, archive.BucketPath(okBucket))
	require.NoError(t, err)

	missing, err := g.Put(ctx, a, FileNotUploaded)
	require.NoError(t, err)
	_, err = a.GetFile(ctx, archive.BucketPath(missing))
	require.Error(t, err)

	mismatched, err := g.Put(ctx, a, HashMismatch)
	require.NoError(t, err)
	raw, err := a.GetFile(ctx, archive.BucketPath(mismatched))
	require.NoError(t, err)
	require.NotEqual(t, []byte("historytest-bucket-3"), raw)
}
