// Package publish implements the publish pipeline: a per-entry state
// machine (resolveFutures -> writeFiles -> upload) with at most one entry
// in flight, driven by cenkalti/backoff retries.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ledgermint/historycore/internal/historycore/archive"
	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
	"github.com/ledgermint/historycore/internal/historycore/filefmt"
	"github.com/ledgermint/historycore/internal/historycore/has"
	"github.com/ledgermint/historycore/internal/historycore/publishqueue"
)

// Phase identifies which step of an in-flight entry is running.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseResolveFutures
	PhaseWriteFiles
	PhaseUpload
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseResolveFutures:
		return "RESOLVE_FUTURES"
	case PhaseWriteFiles:
		return "WRITE_FILES"
	case PhaseUpload:
		return "UPLOAD"
	case PhaseDone:
		return "DONE"
	case PhaseFailed:
		return "FAILED"
	default:
		return "IDLE"
	}
}

// Config wires the pipeline's collaborators; Config.Archives is iterated
// in order on every upload, for each configured archive, in sequence.
type Config struct {
	Logger    *logrus.Entry
	Queue     *publishqueue.Queue
	Archives  []archive.Archive
	Merger    BucketMerger
	Buckets   BucketSource
	Headers   LedgerHeaderSource
	TxSource  TransactionSource
	Frequency checkpoint.Frequency
	TmpRoot   string
	Retries   uint64 // max retries for Transient-IO inside one Work
}

// Pipeline drives the publish queue: exactly one entry in flight, ordered
// strictly by ascending ledger.
type Pipeline struct {
	cfg Config

	phase           Phase
	pendingLedger   uint32
	lastPublishedAt time.Time
	running         bool
	autoSchedule    bool
	publishSuccess  prometheus.Counter
	publishFailure  prometheus.Counter
}

// Snapshot is a point-in-time read of the pipeline's progress, for status
// reporting.
type Snapshot struct {
	Phase           Phase
	Ledger          uint32
	LastPublishedAt time.Time
}

// Snapshot reports what the pipeline is doing right now.
func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{Phase: p.phase, Ledger: p.pendingLedger, LastPublishedAt: p.lastPublishedAt}
}

func NewPipeline(cfg Config, registry *prometheus.Registry, namespace string) *Pipeline {
	p := &Pipeline{
		cfg:          cfg,
		phase:        PhaseIdle,
		autoSchedule: true,
		publishSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "history", Name: "publish_success_total",
			Help: "number of checkpoints successfully published",
		}),
		publishFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "history", Name: "publish_failure_total",
			Help: "number of checkpoint publish attempts that failed",
		}),
	}
	if registry != nil {
		registry.MustRegister(p.publishSuccess, p.publishFailure)
	}
	return p
}

// Phase reports the state of the current (or most recent) in-flight entry.
func (p *Pipeline) Phase() Phase { return p.phase }

// Resume re-enables auto-scheduling after a FAILED entry: operator
// intervention is required before the pipeline will advance past a
// failed entry on its own.
func (p *Pipeline) Resume() {
	p.autoSchedule = true
}

// Tick publishes the next queued entry, if any, and the pipeline is not
// already running and auto-scheduling is enabled. It is safe to call
// repeatedly (e.g. once per event-loop crank); it is a no-op when there is
// nothing to do.
func (p *Pipeline) Tick(ctx context.Context) error {
	if p.running || !p.autoSchedule {
		return nil
	}
	states, err := p.cfg.Queue.SnapshotStates(ctx)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		return nil
	}
	return p.publishOne(ctx, states[0])
}

func (p *Pipeline) publishOne(ctx context.Context, original has.HistoryArchiveState) error {
	p.running = true
	p.pendingLedger = original.CurrentLedger
	defer func() { p.running = false }()

	tmp, err := NewTmpDirManager(p.cfg.TmpRoot, fmt.Sprintf("publish-%d-", original.CurrentLedger))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := tmp.Close(); cerr != nil {
			p.cfg.Logger.WithError(cerr).Warn("could not remove publish temp dir")
		}
	}()

	p.phase = PhaseResolveFutures
	resolved, err := p.cfg.Merger.ResolveFutures(original)
	if err != nil {
		return p.fail(ctx, original, err)
	}

	p.phase = PhaseWriteFiles
	files, err := p.writeFiles(tmp.Dir(), resolved)
	if err != nil {
		return p.fail(ctx, original, err)
	}

	p.phase = PhaseUpload
	if err := p.upload(ctx, files); err != nil {
		return p.fail(ctx, original, err)
	}

	p.phase = PhaseDone
	return p.historyPublished(ctx, original, true)
}

// stagedFile is one file written uncompressed to the temp dir during
// writeFiles and read back during upload, which sends it to every
// configured archive in sequence; each archive's PutFile gzips it.
type stagedFile struct {
	remote string
	local  string
}

func (p *Pipeline) writeFiles(tmpDir string, state has.HistoryArchiveState) ([]stagedFile, error) {
	freq := p.cfg.Frequency
	last := state.CurrentLedger
	first := freq.FirstLedgerOf(last)

	hasText, err := state.MarshalText()
	if err != nil {
		return nil, err
	}

	headers, err := p.cfg.Headers.LedgerHeaders(first, last)
	if err != nil {
		return nil, fmt.Errorf("reading ledger headers [%d,%d]: %w", first, last, err)
	}
	headerBytes, err := filefmt.EncodeLedgerHeaders(headers)
	if err != nil {
		return nil, err
	}

	txSets := make([][]byte, 0, last-first+1)
	for l := first; l <= last; l++ {
		ts, err := p.cfg.TxSource.TransactionSet(l)
		if err != nil {
			return nil, fmt.Errorf("reading tx set for ledger %d: %w", l, err)
		}
		txSets = append(txSets, ts)
	}
	txBytes, err := filefmt.EncodeTransactionSets(first, txSets)
	if err != nil {
		return nil, err
	}

	var files []stagedFile
	stage := func(remote string, contents []byte) error {
		local, err := writeTempFile(tmpDir, remote, contents)
		if err != nil {
			return err
		}
		files = append(files, stagedFile{remote: remote, local: local})
		return nil
	}

	if err := stage(archivePathHAS(last), []byte(hasText)); err != nil {
		return nil, err
	}
	// The well-known root pointer always tracks the most recently published
	// checkpoint, so a joining node's catchup ceiling lookup has something
	// to read.
	if err := stage(archive.RootHASPath, []byte(hasText)); err != nil {
		return nil, err
	}
	if err := stage(archivePathHeaders(last), headerBytes); err != nil {
		return nil, err
	}
	if err := stage(archivePathTx(last), txBytes); err != nil {
		return nil, err
	}

	for _, b := range state.Buckets() {
		contents, err := p.cfg.Buckets.GetBucket(b)
		if err != nil {
			return nil, fmt.Errorf("reading bucket %s: %w", b, err)
		}
		if err := stage(archivePathBucket(b), contents); err != nil {
			return nil, err
		}
	}
	return files, nil
}

func (p *Pipeline) upload(ctx context.Context, files []stagedFile) error {
	for _, a := range p.cfg.Archives {
		for _, f := range files {
			contents, err := os.ReadFile(f.local)
			if err != nil {
				return fmt.Errorf("reading staged file %s: %w", f.local, err)
			}
			remote := f.remote
			op := func() error {
				if err := a.MkdirRemote(ctx, remote); err != nil {
					return err
				}
				return a.PutFile(ctx, remote, contents)
			}
			if err := p.retry(ctx, op); err != nil {
				return fmt.Errorf("uploading %s: %w", f.remote, err)
			}
		}
	}
	return nil
}

func writeTempFile(tmpDir, remote string, contents []byte) (string, error) {
	local := filepath.Join(tmpDir, strings.ReplaceAll(remote, "/", "_"))
	if err := os.WriteFile(local, contents, 0o644); err != nil {
		return "", fmt.Errorf("staging %s: %w", remote, err)
	}
	return local, nil
}

func (p *Pipeline) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewConstantBackOff(200*time.Millisecond), p.cfg.Retries), ctx)
	return backoff.Retry(op, b)
}

func (p *Pipeline) historyPublished(ctx context.Context, original has.HistoryArchiveState, success bool) error {
	if !success {
		p.publishFailure.Inc()
		p.autoSchedule = false
		return nil
	}
	if err := p.cfg.Queue.Remove(ctx, original.CurrentLedger); err != nil {
		return err
	}
	p.lastPublishedAt = time.Now()
	p.publishSuccess.Inc()
	p.cfg.Logger.WithField("ledger", original.CurrentLedger).Info("published checkpoint")
	return nil
}

func (p *Pipeline) fail(ctx context.Context, original has.HistoryArchiveState, cause error) error {
	p.phase = PhaseFailed
	p.cfg.Logger.WithError(cause).WithField("ledger", original.CurrentLedger).Error("checkpoint publish failed")
	if err := p.historyPublished(ctx, original, false); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func archivePathHAS(ledger uint32) string     { return archive.HASPath(ledger) }
func archivePathHeaders(ledger uint32) string { return archive.LedgerHeaderPath(ledger) }
func archivePathTx(ledger uint32) string      { return archive.TransactionsPath(ledger) }
func archivePathBucket(b has.Bucket) string   { return archive.BucketPath(b) }
