package status

import (
	"net/http"
	"time"

	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/ledgermint/historycore/internal/historycore/node"
	"github.com/ledgermint/historycore/internal/historycore/publish"
)

// maxRequestSize bounds the status surface's request bodies; these are
// read-only status queries (or a single catchup trigger), so there is no
// legitimate reason for a large payload the way there is for, say,
// submitting a transaction.
const maxRequestSize = 64 * 1024

// rpcHandler keeps the jhttp.Bridge beside the http.Handler wrapping it,
// so it can stay a plain http.Handler plus Close().
type rpcHandler struct {
	bridge jhttp.Bridge
	logger *logrus.Entry
	http.Handler
}

func (h rpcHandler) Close() {
	if err := h.bridge.Close(); err != nil {
		h.logger.WithError(err).Warn("could not close status JSON-RPC bridge")
	}
}

func newRPCHandler(lm node.LedgerManager, p *publish.Pipeline, logger *logrus.Entry) rpcHandler {
	methods := handler.Map{
		"getHealth":         NewHealthCheck(lm),
		"getLedgerStatus":   NewGetLedgerStatusHandler(lm),
		"getHistoryStatus":  NewGetHistoryStatusHandler(lm, p),
		"startCatchup":      NewStartCatchupHandler(lm, logger),
	}

	bridge := jhttp.NewBridge(methods, nil)

	var h http.Handler = bridge
	h = withRequestLog(h, logger)
	h = http.MaxBytesHandler(h, maxRequestSize)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:         []string{},
		AllowOriginRequestFunc: func(*http.Request, string) bool { return true },
		AllowedHeaders:         []string{"*"},
		AllowedMethods:         []string{"GET", "POST", "OPTIONS"},
	})

	return rpcHandler{bridge: bridge, logger: logger, Handler: corsMiddleware.Handler(h)}
}

func withRequestLog(next http.Handler, logger *logrus.Entry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := middleware.NextRequestID()
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.WithFields(logrus.Fields{
			"subsys":   "status_rpc",
			"req":      reqID,
			"duration": time.Since(start).String(),
		}).Debug("handled status request")
	})
}

// Router is a read-only chi router serving /status (the JSON-RPC surface
// above) and /metrics (the shared prometheus registry), wrapping the
// JSON-RPC bridge in chi middleware and exposing metrics alongside it on
// the admin endpoint.
type Router struct {
	*chi.Mux
	rpc rpcHandler
}

// NewRouter builds the status subsystem's HTTP surface.
func NewRouter(lm node.LedgerManager, p *publish.Pipeline, registry *prometheus.Registry, logger *logrus.Entry) *Router {
	rpc := newRPCHandler(lm, p, logger)

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Handle("/status", rpc)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Router{Mux: mux, rpc: rpc}
}

// Close releases the JSON-RPC bridge's resources.
func (r *Router) Close() { r.rpc.Close() }
