package catchup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
	"github.com/ledgermint/historycore/internal/historycore/has"
)

func TestPlanContiguousCatchupHasNoBucketApply(t *testing.T) {
	p := NewPlanner(checkpoint.Frequency(8))
	// A node that was live through ledger 32 and only missed the most
	// recent checkpoint: no gap, so no bucket state-jump is needed.
	plan, err := p.Plan(32, has.CatchupConfiguration{ToLedger: 40, Recent: 8}, 47)
	require.NoError(t, err)

	assert.False(t, plan.ApplyBuckets)
	assert.Equal(t, has.LedgerRange{First: 33, Last: 40}, plan.ApplyRange)
	assert.Equal(t, uint32(32), plan.TrustAnchor)
	assert.Equal(t, has.LedgerRange{First: 32, Last: 39}, plan.VerifyRange)
}

func TestPlanGappedCatchupBucketJumps(t *testing.T) {
	p := NewPlanner(checkpoint.Frequency(8))
	// A cold node, far behind: the same target and recency window now
	// requires a bucket state-jump to close the gap before replaying the
	// trailing checkpoint's transactions.
	plan, err := p.Plan(0, has.CatchupConfiguration{ToLedger: 40, Recent: 8}, 47)
	require.NoError(t, err)

	assert.True(t, plan.ApplyBuckets)
	assert.Equal(t, uint32(31), plan.TrustAnchor, "the bucket anchor snaps to the published checkpoint boundary at or before the raw candidate")
	assert.Equal(t, has.LedgerRange{First: 32, Last: 40}, plan.ApplyRange)
	assert.Equal(t, has.LedgerRange{First: 24, Last: 31}, plan.VerifyRange)
}

func TestPlanRecentBelowOneCheckpointClampsToOneCheckpoint(t *testing.T) {
	p := NewPlanner(checkpoint.Frequency(8))
	withZero, err := p.Plan(0, has.CatchupConfiguration{ToLedger: 40, Recent: 0}, 47)
	require.NoError(t, err)
	withFreq, err := p.Plan(0, has.CatchupConfiguration{ToLedger: 40, Recent: 8}, 47)
	require.NoError(t, err)

	assert.Equal(t, withFreq.ApplyRange, withZero.ApplyRange, "Recent below one checkpoint never shrinks the replay window")
}

func TestPlanCompleteCatchupReplaysFromLastClosed(t *testing.T) {
	p := NewPlanner(checkpoint.Frequency(8))
	plan, err := p.Plan(0, has.CatchupConfiguration{ToLedger: 40, Recent: has.RecentComplete}, 47)
	require.NoError(t, err)

	assert.False(t, plan.ApplyBuckets)
	assert.Equal(t, has.LedgerRange{First: 1, Last: 40}, plan.ApplyRange)
}

func TestPlanCapsApplyLastToWhatIsPublished(t *testing.T) {
	p := NewPlanner(checkpoint.Frequency(8))
	plan, err := p.Plan(0, has.CatchupConfiguration{ToLedger: 100, Recent: has.RecentComplete}, 23)
	require.NoError(t, err)

	assert.Equal(t, uint32(23), plan.ApplyRange.Last, "target beyond the archive's frontier caps to the last published checkpoint")
}

func TestPlanRejectsTargetNotAheadOfLastClosed(t *testing.T) {
	p := NewPlanner(checkpoint.Frequency(8))
	_, err := p.Plan(40, has.CatchupConfiguration{ToLedger: 40, Recent: has.RecentComplete}, 47)
	assert.Error(t, err)
}

func TestPlanRejectsNothingPublishedYet(t *testing.T) {
	p := NewPlanner(checkpoint.Frequency(8))
	_, err := p.Plan(0, has.CatchupConfiguration{ToLedger: 40, Recent: has.RecentComplete}, 0)
	assert.Error(t, err)
}

func TestCheckpointsSpanned(t *testing.T) {
	f := checkpoint.Frequency(8)
	assert.Equal(t, uint32(1), checkpointsSpanned(1, 7, f))
	assert.Equal(t, uint32(1), checkpointsSpanned(8, 15, f))
	assert.Equal(t, uint32(2), checkpointsSpanned(1, 15, f))
	assert.Equal(t, uint32(0), checkpointsSpanned(15, 1, f))
}
