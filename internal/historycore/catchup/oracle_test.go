package catchup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
	"github.com/ledgermint/historycore/internal/historycore/has"
)

func TestComputeCatchupPerformedWorkContiguousCase(t *testing.T) {
	p := NewPlanner(checkpoint.Frequency(8))
	plan, err := p.Plan(32, has.CatchupConfiguration{ToLedger: 40, Recent: 8}, 47)
	require.NoError(t, err)

	got := ComputeCatchupPerformedWork(plan)
	assert.Equal(t, uint32(1), got.HASDownloaded, "no bucket jump: the root checkpoint is the only HAS needed")
	assert.Equal(t, uint32(8), got.LedgersDownloaded)
	assert.Equal(t, uint32(8), got.TxDownloaded)
	assert.Equal(t, uint32(8), got.TxApplied)
	assert.Equal(t, uint32(9), got.LedgersVerified, "verified span runs from the anchor checkpoint's first ledger (32) through the last applied ledger (40)")
	assert.False(t, got.BucketsDownloaded)
	assert.False(t, got.BucketsApplied)
	assert.Equal(t, uint32(0), got.ChainVerifyFailures)
}

func TestComputeCatchupPerformedWorkBucketApplyCase(t *testing.T) {
	p := NewPlanner(checkpoint.Frequency(8))
	plan, err := p.Plan(0, has.CatchupConfiguration{ToLedger: 40, Recent: 8}, 47)
	require.NoError(t, err)

	got := ComputeCatchupPerformedWork(plan)
	assert.Equal(t, uint32(2), got.HASDownloaded, "the bucket anchor's checkpoint differs from the root checkpoint here")
	// TxDownloaded/TxApplied land on 9, not the 8 a naive "one checkpoint's
	// worth of replay" estimate would suggest: the bucket-jump anchor must
	// sit on a published checkpoint boundary (31), one ledger short of the
	// raw candidate (32) recent's window would otherwise have picked, so
	// the apply range [32, 40] is 9 ledgers wide rather than 8.
	assert.Equal(t, uint32(9), got.TxDownloaded)
	assert.Equal(t, uint32(9), got.TxApplied)
	assert.True(t, got.BucketsDownloaded)
	assert.True(t, got.BucketsApplied)
	assert.Equal(t, uint32(17), got.LedgersVerified, "verified span runs from the anchor checkpoint's first ledger (24) through the last applied ledger (40)")
}

func TestComputeCatchupPerformedWorkSingleHASWithoutBucketJump(t *testing.T) {
	p := NewPlanner(checkpoint.Frequency(8))
	// lastClosed=0 and a target right at the end of the checkpoint after
	// genesis, with recent covering the entire span: no bucket jump
	// happens, so only one HAS is downloaded.
	plan, err := p.Plan(0, has.CatchupConfiguration{ToLedger: 15, Recent: has.RecentComplete}, 15)
	require.NoError(t, err)

	got := ComputeCatchupPerformedWork(plan)
	assert.False(t, plan.ApplyBuckets)
	assert.Equal(t, uint32(1), got.HASDownloaded)
}

func TestComputeCatchupPerformedWorkMatchesPlanRangesByConstruction(t *testing.T) {
	p := NewPlanner(checkpoint.Frequency(8))
	plan, err := p.Plan(0, has.CatchupConfiguration{ToLedger: 40, Recent: has.RecentComplete}, 47)
	require.NoError(t, err)

	got := ComputeCatchupPerformedWork(plan)
	assert.Equal(t, plan.VerifyRange.Count(), got.LedgersDownloaded)
	assert.Equal(t, plan.ApplyRange.Count(), got.TxDownloaded)
	assert.Equal(t, plan.ApplyRange.Count(), got.TxApplied)
}
