package catchup

import "github.com/ledgermint/historycore/internal/historycore/has"

// ComputeCatchupPerformedWork predicts the counters an honest run of plan
// will produce. Per the source design's own flagged undercount (spec's
// ledgers-verified formula disagrees with itself at genesis boundaries),
// this is deliberately a pure function of the planner's actual ranges
// rather than a second, independently-derived formula -- so the oracle and
// the plan it is checking can never disagree about what "the range" means.
func ComputeCatchupPerformedWork(plan Plan) has.CatchupPerformedWork {
	f := plan.Frequency

	// The root HAS (the archive's current pointer, at or after ApplyRange's
	// end) is always fetched once. A bucket state-jump needs a second HAS
	// at the jump anchor only when that anchor's checkpoint differs from
	// the root's -- i.e. the jump reaches further back than the newest
	// checkpoint alone would require.
	hasDownloaded := uint32(1)
	rootCheckpoint := f.ContainingLedger(plan.ApplyRange.Last)
	if plan.ApplyBuckets && plan.VerifyRange.Last != rootCheckpoint {
		hasDownloaded = 2
	}

	// Every ledger from the anchor checkpoint's first ledger through the
	// last applied ledger has its hash checked against a trusted value --
	// the anchor checkpoint's entries via the downloaded header file, the
	// applied ledgers' via their own replay result -- so this span is what
	// "verified" counts, distinct from "downloaded" (the anchor checkpoint
	// alone).
	ledgersVerified := has.LedgerRange{First: plan.VerifyRange.First, Last: plan.ApplyRange.Last}.Count()

	return has.CatchupPerformedWork{
		HASDownloaded:       hasDownloaded,
		LedgersDownloaded:   plan.VerifyRange.Count(),
		LedgersVerified:     ledgersVerified,
		ChainVerifyFailures: 0,
		BucketsDownloaded:   plan.ApplyBuckets,
		BucketsApplied:      plan.ApplyBuckets,
		TxDownloaded:        plan.ApplyRange.Count(),
		TxApplied:           plan.ApplyRange.Count(),
	}
}
