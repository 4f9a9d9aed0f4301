// Package catchup implements the catchup planner: given where a node's
// ledger manager currently sits and a requested catchup target, it computes
// the apply range (what gets replayed or bucket-jumped to) and the verify
// range (the checkpoint chain that anchors the apply range's trust), plus a
// work oracle that predicts what an honest run of that plan will count.
package catchup

import (
	"fmt"

	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
	"github.com/ledgermint/historycore/internal/historycore/has"
)

// Genesis is the lowest content-bearing ledger sequence; ledger 0 does not
// exist as archived content.
const Genesis uint32 = 1

// Plan is the outcome of planning one catchup request: the ranges the
// verifier and applier must walk, and whether the apply side is a bucket
// state-jump or a full transaction replay.
type Plan struct {
	// ApplyRange is the span of ledgers the applier must bring the ledger
	// manager's state up to, inclusive.
	ApplyRange has.LedgerRange
	// VerifyRange is the checkpoint-aligned span of ledger-header files the
	// verifier must download and hash-chain, newest first.
	VerifyRange has.LedgerRange
	// TrustAnchor is the ledger immediately before ApplyRange.First; its
	// archived hash is what ApplyRange's first applied ledger must chain
	// from. It equals ApplyRange.First-1 before alignment to a checkpoint
	// boundary.
	TrustAnchor uint32
	// ApplyBuckets is true when the apply side must state-jump by adopting
	// a bucket list wholesale (a gap exists between lastClosed and
	// ApplyRange.First), false when every ledger in ApplyRange is replayed
	// from lastClosed forward with no gap.
	ApplyBuckets bool
	// TriggerLedger is the first ledger of the checkpoint after
	// ApplyRange.Last. Online catchup treats it as the handoff point: the
	// node has applied everything archived through ApplyRange.Last and
	// now waits for consensus to externalize TriggerLedger itself before
	// counting the node as caught up to the present, buffering any value
	// that externalizes for a ledger beyond that one until the ledgers
	// between arrive.
	TriggerLedger uint32
	Frequency     checkpoint.Frequency
}

// Planner computes Plans against a fixed checkpoint frequency.
type Planner struct {
	Frequency checkpoint.Frequency
}

func NewPlanner(freq checkpoint.Frequency) *Planner {
	return &Planner{Frequency: freq}
}

// Plan computes the catchup plan for bringing a ledger manager currently at
// lastClosed up to cfg's target, given that availableThrough is the newest
// ledger whose checkpoint is known to be fully published in the archive.
func (p *Planner) Plan(lastClosed uint32, cfg has.CatchupConfiguration, availableThrough uint32) (Plan, error) {
	f := p.Frequency
	if cfg.ToLedger == 0 {
		return Plan{}, fmt.Errorf("catchup: toLedger must be positive")
	}
	if cfg.ToLedger <= lastClosed {
		return Plan{}, fmt.Errorf("catchup: toLedger %d is not ahead of lastClosed %d", cfg.ToLedger, lastClosed)
	}

	applyLast := cfg.ToLedger
	if f.ContainingLedger(applyLast) > f.ContainingLedger(availableThrough) {
		if availableThrough < Genesis {
			return Plan{}, fmt.Errorf("catchup: no checkpoint published yet, cannot reach toLedger %d", cfg.ToLedger)
		}
		applyLast = f.ContainingLedger(availableThrough)
	}
	if applyLast <= lastClosed {
		return Plan{}, fmt.Errorf("catchup: no published checkpoint is ahead of lastClosed %d", lastClosed)
	}

	// Online catchup cannot stop mid-checkpoint: the node must reach an
	// exact checkpoint boundary before a trigger ledger -- the first
	// ledger consensus is still externalizing live -- is well defined.
	// Rounding up is always safe here: applyLast already sits at or before
	// availableThrough's own containing checkpoint.
	if cfg.Mode == has.ModeOnline {
		applyLast = f.ContainingLedger(applyLast)
	}

	applyFirst := lastClosed + 1
	applyBuckets := false
	if !cfg.IsComplete() {
		// The applier fetches transaction-history files one whole checkpoint
		// at a time, so it can never usefully replay less than one
		// checkpoint's worth of ledgers even if Recent asks for fewer;
		// Recent only matters when it asks for *more* than that.
		recent := cfg.Recent
		if recent < uint32(f) {
			recent = uint32(f)
		}
		if candidate := applyLast - recent + 1; candidate > applyFirst {
			applyFirst = candidate
		}
		applyBuckets = applyFirst > lastClosed+1
	}

	// A bucket state-jump can only land on a published checkpoint boundary
	// -- bucket lists are never published mid-checkpoint -- so when a jump
	// is needed, snap its anchor down to the nearest boundary at or before
	// the raw candidate and extend the replay to cover the remainder.
	if applyBuckets {
		anchor := lastCheckpointEndAtOrBefore(applyFirst-1, f)
		applyFirst = anchor + 1
	}

	// The verify range anchors the trust chain: the single checkpoint
	// containing the ledger just before ApplyRange. After a bucket jump that
	// is the checkpoint immediately preceding ApplyRange; otherwise it can
	// overlap ApplyRange's first checkpoint. Apply's own ledgers are checked
	// by the applier against their archived headers as they are replayed.
	trustAnchor := applyFirst - 1
	verifyFirst := f.FirstLedgerOf(f.ContainingLedger(trustAnchor))
	verifyLast := f.ContainingLedger(trustAnchor)

	return Plan{
		ApplyRange:    has.LedgerRange{First: applyFirst, Last: applyLast},
		VerifyRange:   has.LedgerRange{First: verifyFirst, Last: verifyLast},
		TrustAnchor:   trustAnchor,
		ApplyBuckets:  applyBuckets,
		TriggerLedger: f.ContainingLedger(applyLast) + 1,
		Frequency:     f,
	}, nil
}

// lastCheckpointEndAtOrBefore returns the largest checkpoint-ending ledger
// that is <= n, or 0 if n falls before the genesis checkpoint even ends
// (there is nothing published to snap to yet).
func lastCheckpointEndAtOrBefore(n uint32, f checkpoint.Frequency) uint32 {
	end := f.ContainingLedger(n)
	if end <= n {
		return end
	}
	if end < uint32(f) {
		return 0
	}
	return end - uint32(f)
}

// checkpointsSpanned returns how many distinct checkpoint files cover
// [first, last]; containing-checkpoint ledgers are always f apart, whether
// or not the very first (genesis) checkpoint is itself short.
func checkpointsSpanned(first, last uint32, f checkpoint.Frequency) uint32 {
	if last < first {
		return 0
	}
	return (f.ContainingLedger(last)-f.ContainingLedger(first))/uint32(f) + 1
}
