package historytest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ledgermint/historycore/internal/historycore/archive"
	"github.com/ledgermint/historycore/internal/historycore/catchup"
	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
	"github.com/ledgermint/historycore/internal/historycore/has"
	"github.com/ledgermint/historycore/internal/historycore/node"
	"github.com/ledgermint/historycore/internal/historycore/publish"
	"github.com/ledgermint/historycore/internal/historycore/publishqueue"
	"github.com/ledgermint/historycore/internal/historycore/verify"
)

// recordingCloseAlgorithm wraps another CloseAlgorithm and keeps every
// entry it produces, so Driver can serve them back out through
// publish.LedgerHeaderSource/TransactionSource without a real bucket-merge
// or transaction-execution layer underneath.
type recordingCloseAlgorithm struct {
	inner   node.CloseAlgorithm
	entries map[uint32]has.LedgerHeaderHistoryEntry
	txSets  map[uint32][]byte
}

func newRecordingCloseAlgorithm(inner node.CloseAlgorithm) *recordingCloseAlgorithm {
	return &recordingCloseAlgorithm{
		inner:   inner,
		entries: make(map[uint32]has.LedgerHeaderHistoryEntry),
		txSets:  make(map[uint32][]byte),
	}
}

func (r *recordingCloseAlgorithm) CloseLedger(ctx context.Context, prevHash has.Hash, ledgerSeq uint32, txSet []byte) (has.LedgerHeaderHistoryEntry, error) {
	entry, err := r.inner.CloseLedger(ctx, prevHash, ledgerSeq, txSet)
	if err != nil {
		return entry, err
	}
	r.entries[ledgerSeq] = entry
	r.txSets[ledgerSeq] = txSet
	return entry, nil
}

func (r *recordingCloseAlgorithm) LedgerHeaders(first, last uint32) ([]has.LedgerHeaderHistoryEntry, error) {
	out := make([]has.LedgerHeaderHistoryEntry, 0, last-first+1)
	for seq := first; seq <= last; seq++ {
		entry, ok := r.entries[seq]
		if !ok {
			return nil, fmt.Errorf("historytest: no recorded header for ledger %d", seq)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *recordingCloseAlgorithm) TransactionSet(seq uint32) ([]byte, error) {
	ts, ok := r.txSets[seq]
	if !ok {
		return nil, fmt.Errorf("historytest: no recorded tx set for ledger %d", seq)
	}
	return ts, nil
}

// Entry returns the recorded header for seq, if CloseLedger has produced
// one, so a caller can backfill a LedgerGenerator's log with the hashes
// the real close algorithm computed for it.
func (r *recordingCloseAlgorithm) Entry(seq uint32) (has.LedgerHeaderHistoryEntry, bool) {
	entry, ok := r.entries[seq]
	return entry, ok
}

type passthroughMerger struct{}

func (passthroughMerger) ResolveFutures(state has.HistoryArchiveState) (has.HistoryArchiveState, error) {
	return state, nil
}

type emptyBucketSource struct{}

func (emptyBucketSource) GetBucket(has.Bucket) ([]byte, error) { return []byte{}, nil }

// Driver runs a producer node against an in-memory archive -- closing
// generated ledgers, publishing completed checkpoints -- and can spin up
// fresh "joining" consumer nodes that have to catch up against whatever
// the producer has published so far, mirroring a second replica observing
// a network it didn't track from genesis.
type Driver struct {
	t         *testing.T
	Archive   *archive.MockArchive
	Generator *LedgerGenerator
	Frequency checkpoint.Frequency

	producer *node.DefaultLedgerManager
	pipeline *publish.Pipeline
	recorder *recordingCloseAlgorithm
}

// NewDriver builds a Driver with its own producer node and publish
// pipeline, both backed by freq and a*archive.MockArchive that every
// consumer built via NewConsumer shares.
func NewDriver(t *testing.T, freq checkpoint.Frequency, gen *LedgerGenerator) *Driver {
	t.Helper()
	a := archive.NewMockArchive()
	logger := logrus.NewEntry(logrus.New())

	recorder := newRecordingCloseAlgorithm(node.NewPlaceholderCloseAlgorithm(0))

	dir := t.TempDir()
	db, err := publishqueue.OpenSQLiteDB(filepath.Join(dir, "producer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q := publishqueue.New(db, freq, "historytest-producer", logger)
	require.NoError(t, q.Open(context.Background()))

	pipeline := publish.NewPipeline(publish.Config{
		Logger:    logger,
		Queue:     q,
		Archives:  []archive.Archive{a},
		Merger:    passthroughMerger{},
		Buckets:   emptyBucketSource{},
		Headers:   recorder,
		TxSource:  recorder,
		Frequency: freq,
		TmpRoot:   dir,
		Retries:   3,
	}, nil, "historytest")

	producer := node.NewDefaultLedgerManager(node.LedgerManagerConfig{
		Logger:         logger,
		Queue:          q,
		Archive:        a,
		Planner:        catchup.NewPlanner(freq),
		Verifier:       verify.NewVerifier(freq, nil, "historytest"),
		Applier:        verify.NewApplier(freq),
		CloseAlgorithm: recorder,
	}, 0, has.Hash{})

	return &Driver{
		t:         t,
		Archive:   a,
		Generator: gen,
		Frequency: freq,
		producer:  producer,
		pipeline:  pipeline,
		recorder:  recorder,
	}
}

// Producer returns the driver's producer node, for assertions against its
// own view of last-closed ledger/hash.
func (d *Driver) Producer() *node.DefaultLedgerManager { return d.producer }

// CrankUntil externalizes generated ledgers from the producer's current
// last-closed ledger up through target, ticking the publish pipeline after
// each one so completed checkpoints make it into Archive.
func (d *Driver) CrankUntil(ctx context.Context, target uint32) error {
	for seq := d.producer.LastClosedLedger() + 1; seq <= target; seq++ {
		rec := d.Generator.Next(seq)
		if _, err := d.producer.ValueExternalized(ctx, rec.TxSet); err != nil {
			return fmt.Errorf("externalizing ledger %d: %w", seq, err)
		}
		if entry, ok := d.recorder.Entry(seq); ok {
			d.Generator.RecordClose(seq, entry.Hash, entry.BucketListHash)
		}
		if err := d.archiveGeneratedBuckets(ctx, rec); err != nil {
			return fmt.Errorf("archiving generated buckets for ledger %d: %w", seq, err)
		}
		if err := d.pipeline.Tick(ctx); err != nil {
			return fmt.Errorf("publish tick after ledger %d: %w", seq, err)
		}
	}
	// Drain any checkpoint boundary crossed on the final ledger.
	return d.pipeline.Tick(ctx)
}

// archiveGeneratedBuckets uploads rec's two synthetic buckets to Archive by
// their content address, the way publish.Pipeline's writeFiles uploads
// every bucket a checkpoint's HAS references -- except here the generator,
// not a real bucket-merge layer, is the source of bucket content, so the
// upload happens directly rather than through the publish queue.
func (d *Driver) archiveGeneratedBuckets(ctx context.Context, rec LedgerRecord) error {
	contents := d.Generator.BucketContents()
	for _, b := range []has.Bucket{rec.BucketLvl0, rec.BucketLvl2} {
		raw, ok := contents[b]
		if !ok {
			return fmt.Errorf("historytest: generator has no content recorded for bucket %s", b)
		}
		if err := d.Archive.PutFile(ctx, archive.BucketPath(b), raw); err != nil {
			return err
		}
	}
	return nil
}

// NewConsumer builds a fresh node that has never observed any ledger and
// must rely entirely on StartCatchup against Driver's shared archive --
// the "second node joins late" scenario Driver is for.
func (d *Driver) NewConsumer(t *testing.T) *node.DefaultLedgerManager {
	t.Helper()
	dir := t.TempDir()
	db, err := publishqueue.OpenSQLiteDB(filepath.Join(dir, "consumer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.NewEntry(logrus.New())
	q := publishqueue.New(db, d.Frequency, "historytest-consumer", logger)
	require.NoError(t, q.Open(context.Background()))

	return node.NewDefaultLedgerManager(node.LedgerManagerConfig{
		Logger:         logger,
		Queue:          q,
		Archive:        d.Archive,
		Planner:        catchup.NewPlanner(d.Frequency),
		Verifier:       verify.NewVerifier(d.Frequency, nil, "historytest"),
		Applier:        verify.NewApplier(d.Frequency),
		CloseAlgorithm: node.NewPlaceholderCloseAlgorithm(0),
	}, 0, has.Hash{})
}
