package node

import (
	"context"

	"github.com/ledgermint/historycore/internal/historycore/has"
)

// LedgerManager is the state-machine contract the publish and catchup
// subsystems are built against: closeLedger and valueExternalized on the
// consensus path, startCatchup on the recovery path. Transaction
// execution and consensus itself are out of scope; this interface only
// covers the surface history cares about.
type LedgerManager interface {
	State() State
	LastClosedLedger() uint32
	LastClosedHash() has.Hash

	// CloseLedger hands txSet to the ledger-close algorithm and returns
	// the resulting ledger's hash, advancing LastClosedLedger by one.
	CloseLedger(ctx context.Context, txSet []byte) (has.Hash, error)

	// AdoptBucketList performs the atomic bucket state-jump: the given
	// HAS's bucket list becomes live and LastClosedLedger becomes
	// state.CurrentLedger.
	AdoptBucketList(ctx context.Context, state has.HistoryArchiveState) error

	// ValueExternalized is the consensus path's entry point: a value has
	// externalized for the next ledger, so close it and let the publish
	// queue decide whether the close completed a checkpoint.
	ValueExternalized(ctx context.Context, txSet []byte) (has.Hash, error)

	// ValueExternalizedForLedger is ValueExternalized for a caller that
	// knows which ledger seq the value is for. A seq beyond LastClosedLedger+1
	// is buffered rather than applied, since consensus keeps externalizing
	// while an online catchup is still in flight; it is replayed once the
	// ledgers ahead of it close.
	ValueExternalizedForLedger(ctx context.Context, seq uint32, txSet []byte) (has.Hash, error)

	// StartCatchup drives the node from its current last-closed ledger up
	// to cfg's target via the catchup planner, verifier, and applier.
	StartCatchup(ctx context.Context, cfg has.CatchupConfiguration) error

	// TriggerLedger is the ledger an online StartCatchup is waiting on to
	// close before it considers itself caught up to the present; zero
	// until an online StartCatchup has run, and still the last trigger
	// once that handoff has completed.
	TriggerLedger() uint32
}
