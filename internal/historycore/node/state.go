// Package node wires the history subsystem's pieces -- publishqueue,
// publish, catchup, verify -- behind the LedgerManager contract those
// packages depend on, and aggregates them into a single daemon.
package node

// State is the ledger manager's own state, independent of the history
// subsystem: BOOTING before a node has ever closed or caught up to a
// ledger, and again after a failed StartCatchup; CATCHING_UP while a
// StartCatchup call is in flight; WAITING_FOR_CLOSING_LEDGER after an
// online StartCatchup and after every externalized ledger closes; SYNCED
// once an offline StartCatchup has applied its whole range.
type State int

const (
	StateBooting State = iota
	StateCatchingUp
	StateWaitingForClosingLedger
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateCatchingUp:
		return "CATCHING_UP"
	case StateWaitingForClosingLedger:
		return "WAITING_FOR_CLOSING_LEDGER"
	case StateSynced:
		return "SYNCED"
	default:
		return "BOOTING"
	}
}
