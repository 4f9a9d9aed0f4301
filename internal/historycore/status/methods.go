// Package status exposes the node's own state -- last closed ledger,
// catchup/publish progress -- as a small JSON-RPC surface: one
// request/response pair and a constructor per jrpc2 handler.
package status

import (
	"context"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/code"
	"github.com/creachadair/jrpc2/handler"

	"github.com/ledgermint/historycore/internal/historycore/has"
	"github.com/ledgermint/historycore/internal/historycore/node"
	"github.com/ledgermint/historycore/internal/historycore/publish"
)

type GetHealthRequest struct{}

type GetHealthResponse struct {
	Status            string `json:"status"`
	LastClosedLedger  uint32 `json:"lastClosedLedger"`
	State             string `json:"state"`
}

// NewHealthCheck reports unhealthy, as an RPC error, while the manager is
// BOOTING, and healthy in every other state, including during a catchup.
func NewHealthCheck(lm node.LedgerManager) jrpc2.Handler {
	return handler.New(func(_ context.Context) (GetHealthResponse, error) {
		st := lm.State()
		if st == node.StateBooting {
			return GetHealthResponse{}, &jrpc2.Error{
				Code:    code.InternalError,
				Message: "node has not completed initial catchup",
			}
		}
		return GetHealthResponse{
			Status:           "healthy",
			LastClosedLedger: lm.LastClosedLedger(),
			State:            st.String(),
		}, nil
	})
}

type GetLedgerStatusRequest struct{}

type GetLedgerStatusResponse struct {
	LastClosedLedger uint32 `json:"lastClosedLedger"`
	LastClosedHash   string `json:"lastClosedHash"`
	State            string `json:"state"`
}

// NewGetLedgerStatusHandler reports exactly what a LedgerManager tracks
// about itself, with no archive round trip.
func NewGetLedgerStatusHandler(lm node.LedgerManager) jrpc2.Handler {
	return handler.New(func(_ context.Context) (GetLedgerStatusResponse, error) {
		h := lm.LastClosedHash()
		return GetLedgerStatusResponse{
			LastClosedLedger: lm.LastClosedLedger(),
			LastClosedHash:   h.String(),
			State:            lm.State().String(),
		}, nil
	})
}

// GetHistoryStatusResponse is the combined per-category status view: ledger
// manager state plus publish pipeline progress, in one round trip.
type GetHistoryStatusResponse struct {
	LastClosedLedger uint32 `json:"lastClosedLedger"`
	LastClosedHash   string `json:"lastClosedHash"`
	State            string `json:"state"`
	PublishPhase     string `json:"publishPhase"`
	PendingLedger    uint32 `json:"pendingLedger,omitempty"`
	LastPublishedAt  string `json:"lastPublishedAt,omitempty"`
}

// NewGetHistoryStatusHandler surfaces where the publish pipeline currently
// sits in its IDLE -> RESOLVE_FUTURES -> WRITE_FILES -> UPLOAD -> DONE
// state machine alongside the ledger manager's own state.
func NewGetHistoryStatusHandler(lm node.LedgerManager, p *publish.Pipeline) jrpc2.Handler {
	return handler.New(func(_ context.Context) (GetHistoryStatusResponse, error) {
		snap := p.Snapshot()
		resp := GetHistoryStatusResponse{
			LastClosedLedger: lm.LastClosedLedger(),
			LastClosedHash:   lm.LastClosedHash().String(),
			State:            lm.State().String(),
			PublishPhase:     snap.Phase.String(),
		}
		if snap.Phase != publish.PhaseIdle {
			resp.PendingLedger = snap.Ledger
		}
		if !snap.LastPublishedAt.IsZero() {
			resp.LastPublishedAt = snap.LastPublishedAt.Format(time.RFC3339)
		}
		return resp, nil
	})
}

// StartCatchupRequest mirrors has.CatchupConfiguration's public fields.
type StartCatchupRequest struct {
	ToLedger uint32 `json:"toLedger"`
	Recent   uint32 `json:"recent"`
	Offline  bool   `json:"offline"`
}

type StartCatchupResponse struct {
	Started bool `json:"started"`
}

// errLogger is the subset of *logrus.Entry StartCatchup needs to report a
// background failure it has no RPC caller left to return to.
type errLogger interface {
	Errorf(format string, args ...interface{})
}

// StartCatchup kicks off lm.StartCatchup in the background and returns
// immediately: a catchup run can take far longer than a sane RPC timeout,
// so the caller polls getHistoryStatus for progress instead of waiting on
// this call.
func StartCatchup(lm node.LedgerManager, logger errLogger, req StartCatchupRequest) (StartCatchupResponse, error) {
	mode := has.ModeOnline
	if req.Offline {
		mode = has.ModeOffline
	}
	cfg := has.CatchupConfiguration{ToLedger: req.ToLedger, Recent: req.Recent, Mode: mode}
	go func() {
		if err := lm.StartCatchup(context.Background(), cfg); err != nil {
			logger.Errorf("catchup failed: %v", err)
		}
	}()
	return StartCatchupResponse{Started: true}, nil
}

// NewStartCatchupHandler wraps StartCatchup as a jrpc2.Handler.
func NewStartCatchupHandler(lm node.LedgerManager, logger errLogger) jrpc2.Handler {
	return handler.New(func(_ context.Context, req StartCatchupRequest) (StartCatchupResponse, error) {
		return StartCatchup(lm, logger, req)
	})
}
