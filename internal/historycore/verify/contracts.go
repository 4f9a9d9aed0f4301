package verify

import (
	"context"

	"github.com/ledgermint/historycore/internal/historycore/has"
)

// LedgerManager is the narrow slice of the node's ledger state machine the
// applier depends on: the current last-closed ledger and its hash, plus
// the two operations that advance it. Bucket-apply and transaction-replay
// both end by pushing state through this contract; the ledger-close
// algorithm itself is out of scope.
type LedgerManager interface {
	LastClosedLedger() uint32
	LastClosedHash() has.Hash
	// CloseLedger hands txSet to the ledger-close algorithm and returns the
	// resulting ledger's hash. The applier, not CloseLedger, is
	// responsible for checking that hash against the archived LHHE.
	CloseLedger(ctx context.Context, txSet []byte) (has.Hash, error)
	// AdoptBucketList performs the atomic bucket state-jump: the given
	// HAS's bucket list becomes live and LastClosedLedger becomes
	// state.CurrentLedger.
	AdoptBucketList(ctx context.Context, state has.HistoryArchiveState) error
}
