package node

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ledgermint/historycore/internal/historycore/archive"
	"github.com/ledgermint/historycore/internal/historycore/catchup"
	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
	"github.com/ledgermint/historycore/internal/historycore/has"
	"github.com/ledgermint/historycore/internal/historycore/publish"
	"github.com/ledgermint/historycore/internal/historycore/publishqueue"
	"github.com/ledgermint/historycore/internal/historycore/verify"
)

const defaultShutdownGracePeriod = 10 * time.Second

// Config wires a Daemon's collaborators, mirroring how the publish and
// catchup packages are each configured: everything the history subsystem
// is out-of-scope for (storage, transaction execution, bucket-merge) is
// an injected collaborator, not something Daemon builds itself.
type Config struct {
	Logger    *logrus.Entry
	Namespace string

	DBPath    string
	ServerTag string
	Frequency checkpoint.Frequency

	// Archive is the single archive used for catchup and for the publish
	// queue's writability gate; PublishArchives is the (possibly larger)
	// fan-out list the publish pipeline uploads every file to.
	Archive         archive.Archive
	PublishArchives []archive.Archive

	Merger   publish.BucketMerger
	Buckets  publish.BucketSource
	Headers  publish.LedgerHeaderSource
	TxSource publish.TransactionSource

	CloseAlgorithm CloseAlgorithm

	TmpRoot        string
	PublishRetries uint64
	PublishPeriod  time.Duration

	LastClosedLedger uint32
	LastClosedHash   has.Hash
}

// Daemon aggregates the publish queue, publish pipeline, catchup
// planner/verifier/applier (behind a LedgerManager), and the prometheus
// registry into the single object cmd/historycore wires up.
type Daemon struct {
	logger   *logrus.Entry
	db       *sqlx.DB
	queue    *publishqueue.Queue
	pipeline *publish.Pipeline
	manager  *DefaultLedgerManager
	registry *prometheus.Registry

	publishPeriod time.Duration
	stopPublish   chan struct{}
}

func (d *Daemon) PrometheusRegistry() *prometheus.Registry { return d.registry }

// LedgerManager returns the daemon's ledger manager, for callers that
// need to externalize a value or trigger catchup.
func (d *Daemon) LedgerManager() LedgerManager { return d.manager }

// Pipeline returns the daemon's publish pipeline, for status reporting.
func (d *Daemon) Pipeline() *publish.Pipeline { return d.pipeline }

func (d *Daemon) Close() error {
	close(d.stopPublish)
	return d.db.Close()
}

// MustNew builds a Daemon or calls logger.Fatal trying, the way
// daemon.MustNew treats every setup failure as fatal rather than
// returning an error a caller might ignore.
func MustNew(cfg Config) *Daemon {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	registry := prometheus.NewRegistry()

	db, err := publishqueue.OpenSQLiteDB(cfg.DBPath)
	if err != nil {
		logger.Fatalf("could not open publish queue database: %v", err)
	}

	queue := publishqueue.New(db, cfg.Frequency, cfg.ServerTag, logger)
	if err := queue.Open(context.Background()); err != nil {
		logger.Fatalf("could not load publish queue: %v", err)
	}

	pipeline := publish.NewPipeline(publish.Config{
		Logger:    logger,
		Queue:     queue,
		Archives:  cfg.PublishArchives,
		Merger:    cfg.Merger,
		Buckets:   cfg.Buckets,
		Headers:   cfg.Headers,
		TxSource:  cfg.TxSource,
		Frequency: cfg.Frequency,
		TmpRoot:   cfg.TmpRoot,
		Retries:   cfg.PublishRetries,
	}, registry, cfg.Namespace)

	manager := NewDefaultLedgerManager(LedgerManagerConfig{
		Logger:         logger,
		Queue:          queue,
		Archive:        cfg.Archive,
		Planner:        catchup.NewPlanner(cfg.Frequency),
		Verifier:       verify.NewVerifier(cfg.Frequency, registry, cfg.Namespace),
		Applier:        verify.NewApplier(cfg.Frequency),
		CloseAlgorithm: cfg.CloseAlgorithm,
	}, cfg.LastClosedLedger, cfg.LastClosedHash)

	period := cfg.PublishPeriod
	if period <= 0 {
		period = time.Second
	}

	return &Daemon{
		logger:        logger,
		db:            db,
		queue:         queue,
		pipeline:      pipeline,
		manager:       manager,
		registry:      registry,
		publishPeriod: period,
		stopPublish:   make(chan struct{}),
	}
}

// RunPublishLoop ticks the publish pipeline at the daemon's configured
// period until ctx is cancelled. Exported so a caller that wants to serve
// its own handler alongside the daemon (rather than using Run's built-in
// pprof/metrics mux) can still drive the background publish loop.
func (d *Daemon) RunPublishLoop(ctx context.Context) {
	d.runPublishLoop(ctx)
}

// runPublishLoop ticks the publish pipeline forward at a fixed period.
// The pipeline itself is a no-op Tick when nothing is queued or an entry
// is already in flight, so a fixed period is simpler than trying to wake
// exactly on each new checkpoint.
func (d *Daemon) runPublishLoop(ctx context.Context) {
	ticker := time.NewTicker(d.publishPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopPublish:
			return
		case <-ticker.C:
			if err := d.pipeline.Tick(ctx); err != nil {
				d.logger.WithError(err).Error("publish tick failed")
			}
		}
	}
}

// Run starts the daemon's background publish loop and a metrics/pprof
// admin server, then blocks until SIGINT/SIGTERM, shutting down
// gracefully the way daemon.Run does.
func Run(cfg Config, adminEndpoint string) {
	d := MustNew(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.runPublishLoop(ctx)

	var adminServer *http.Server
	if adminEndpoint != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
		adminServer = &http.Server{Addr: adminEndpoint, Handler: mux}
		go func() {
			if err := adminServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				d.logger.Errorf("admin server encountered fatal error: %v", err)
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), defaultShutdownGracePeriod)
	defer shutdownRelease()

	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			d.logger.Errorf("error during admin server shutdown: %v", err)
		}
	}
	if err := d.Close(); err != nil {
		d.logger.Errorf("error closing daemon: %v", err)
	}
}
