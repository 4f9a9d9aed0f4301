package publishqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/ledgermint/historycore/internal/historycore/archive"
	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
	"github.com/ledgermint/historycore/internal/historycore/has"
)

// ErrNotCheckpointBoundary is returned if MaybeQueue is ever called for a
// ledger that is not the last ledger of its checkpoint; this is a caller
// bug, not a runtime condition, and is never expected in production use.
var ErrNotCheckpointBoundary = errors.New("publishqueue: ledger is not a checkpoint boundary")

// BucketSnapshotter provides the current live bucket list as of a given
// ledger; it is how the queue gets the bucket hashes to put in a HAS
// without knowing anything about the bucket-merge machinery itself.
type BucketSnapshotter interface {
	SnapshotBucketList(ledger uint32) ([]has.BucketListLevel, error)
}

// Queue is the durable, ordered publish queue. All methods are intended to
// be called only from the single event-loop goroutine; Queue does no
// internal locking of its own beyond what is needed to let
// SnapshotStates/ReferencedBuckets be read concurrently.
type Queue struct {
	db        *sqlx.DB
	freq      checkpoint.Frequency
	logger    *logrus.Entry
	serverTag string

	mu         sync.Mutex
	bucketRefs map[has.Bucket]int
	loaded     bool
}

func New(db *sqlx.DB, freq checkpoint.Frequency, serverTag string, logger *logrus.Entry) *Queue {
	return &Queue{
		db:         db,
		freq:       freq,
		serverTag:  serverTag,
		logger:     logger,
		bucketRefs: make(map[has.Bucket]int),
	}
}

// Open rebuilds the in-memory bucket-reference multiset from persisted
// rows. It must be called, and must complete, before any bucket GC runs;
// this is the crash-recovery half of the queue's failure semantics.
func (q *Queue) Open(ctx context.Context) error {
	rows, err := readRows(ctx, q.db)
	if err != nil {
		return fmt.Errorf("loading publish queue: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bucketRefs = make(map[has.Bucket]int)
	for _, r := range rows {
		state, err := has.UnmarshalHAS(r.State)
		if err != nil {
			return fmt.Errorf("parsing queued HAS for ledger %d: %w", r.Ledger, err)
		}
		for _, b := range state.Buckets() {
			q.bucketRefs[b]++
		}
	}
	q.loaded = true
	return nil
}

// MaybeQueue is called once per closed ledger. If the just-closed ledger
// completes a checkpoint and at least one archive can accept uploads, it
// snapshots the current bucket list, builds a HAS, persists it, and pins
// its buckets. Returns (queued, error).
func (q *Queue) MaybeQueue(ctx context.Context, closedLedger uint32, snapshotter BucketSnapshotter, archives archive.Archive) (bool, error) {
	if !q.freq.IsCheckpoint(closedLedger) {
		return false, nil
	}
	if !archives.HasAnyWritable() {
		return false, nil
	}

	levels, err := snapshotter.SnapshotBucketList(closedLedger)
	if err != nil {
		return false, fmt.Errorf("snapshotting bucket list at ledger %d: %w", closedLedger, err)
	}
	state := has.NewHAS(closedLedger, levels, q.serverTag)
	text, err := state.MarshalText()
	if err != nil {
		return false, err
	}

	sqlStr, args, err := insertRow(closedLedger, text)
	if err != nil {
		return false, err
	}
	// Persistence failure here must abort ledger close; it propagates to
	// the caller unwrapped of any "queued" signal.
	if _, err := q.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return false, fmt.Errorf("persisting publish queue entry for ledger %d: %w", closedLedger, err)
	}

	q.mu.Lock()
	for _, b := range state.Buckets() {
		q.bucketRefs[b]++
	}
	q.mu.Unlock()

	q.logger.WithField("ledger", closedLedger).Info("queued checkpoint for publish")
	return true, nil
}

// SnapshotStates returns every queued HAS, oldest (lowest ledger) first --
// the strict ascending order publish must proceed in.
func (q *Queue) SnapshotStates(ctx context.Context) ([]has.HistoryArchiveState, error) {
	rows, err := readRows(ctx, q.db)
	if err != nil {
		return nil, err
	}
	out := make([]has.HistoryArchiveState, 0, len(rows))
	for _, r := range rows {
		state, err := has.UnmarshalHAS(r.State)
		if err != nil {
			return nil, fmt.Errorf("parsing queued HAS for ledger %d: %w", r.Ledger, err)
		}
		out = append(out, state)
	}
	return out, nil
}

// ReferencedBuckets returns the union of bucket hashes across every
// queued HAS. The result is memoised in the in-memory refcount multiset
// maintained by MaybeQueue/Remove/Open, so this never re-reads the DB.
func (q *Queue) ReferencedBuckets() (map[has.Bucket]struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.loaded {
		return nil, errors.New("publishqueue: Open must be called before ReferencedBuckets")
	}
	out := make(map[has.Bucket]struct{}, len(q.bucketRefs))
	for b, refs := range q.bucketRefs {
		if refs > 0 {
			out[b] = struct{}{}
		}
	}
	return out, nil
}

// BucketStore reports whether a bucket hash exists in local storage; it is
// the bucket manager's contract (out of scope: bucket-merge internals).
type BucketStore interface {
	HasBucket(has.Bucket) bool
}

// MissingBuckets returns the subset of ReferencedBuckets not present in
// store.
func (q *Queue) MissingBuckets(store BucketStore) ([]has.Bucket, error) {
	refs, err := q.ReferencedBuckets()
	if err != nil {
		return nil, err
	}
	var missing []has.Bucket
	for b := range refs {
		if !store.HasBucket(b) {
			missing = append(missing, b)
		}
	}
	return missing, nil
}

// Remove deletes the queue row for ledger and decrements the refcount of
// every bucket that HAS referenced. Called by the publish pipeline's
// historyPublished callback on success.
func (q *Queue) Remove(ctx context.Context, ledger uint32) error {
	rows, err := readRows(ctx, q.db)
	if err != nil {
		return err
	}
	var found *has.HistoryArchiveState
	for _, r := range rows {
		if r.Ledger != ledger {
			continue
		}
		state, err := has.UnmarshalHAS(r.State)
		if err != nil {
			return fmt.Errorf("parsing queued HAS for ledger %d: %w", r.Ledger, err)
		}
		found = &state
		break
	}
	if found == nil {
		return fmt.Errorf("publishqueue: no queued entry for ledger %d", ledger)
	}

	sqlStr, args, err := deleteRow(ledger)
	if err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("removing publish queue entry for ledger %d: %w", ledger, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, b := range found.Buckets() {
		q.bucketRefs[b]--
		if q.bucketRefs[b] <= 0 {
			delete(q.bucketRefs, b)
		}
	}
	return nil
}

// Len reports the number of queued (unpublished) checkpoints.
func (q *Queue) Len(ctx context.Context) (int, error) {
	rows, err := readRows(ctx, q.db)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
