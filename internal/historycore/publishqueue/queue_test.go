package publishqueue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermint/historycore/internal/historycore/archive"
	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
	"github.com/ledgermint/historycore/internal/historycore/has"
)

type stubSnapshotter struct {
	levels []has.BucketListLevel
	err    error
}

func (s stubSnapshotter) SnapshotBucketList(uint32) ([]has.BucketListLevel, error) {
	return s.levels, s.err
}

// stubArchive satisfies archive.Archive through the embedded (nil)
// interface; MaybeQueue only ever calls HasAnyWritable on it.
type stubArchive struct {
	archive.Archive
	writable bool
}

func (s stubArchive) HasAnyWritable() bool { return s.writable }

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	dir := t.TempDir()
	db, err := OpenSQLiteDB(filepath.Join(dir, "publish.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, db.Close()) })

	q := New(db, checkpoint.Frequency(8), "test-server", logrus.NewEntry(logrus.New()))
	require.NoError(t, q.Open(context.Background()))
	return q
}

func bucketWith(b byte) has.Bucket {
	var h has.Bucket
	h[0] = b
	return h
}

func TestMaybeQueueSkipsNonBoundaryLedgers(t *testing.T) {
	q := newTestQueue(t)
	snap := stubSnapshotter{}
	queued, err := q.MaybeQueue(context.Background(), 5, snap, stubArchive{writable: true})
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestMaybeQueueSkipsWhenNoArchiveWritable(t *testing.T) {
	q := newTestQueue(t)
	queued, err := q.MaybeQueue(context.Background(), 7, stubSnapshotter{}, stubArchive{writable: false})
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestQueueGoldenPath(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	levels := make([]has.BucketListLevel, has.NumLevels)
	levels[0] = has.BucketListLevel{Curr: bucketWith(0xaa)}
	snap := stubSnapshotter{levels: levels}

	queued, err := q.MaybeQueue(ctx, 7, snap, stubArchive{writable: true})
	require.NoError(t, err)
	assert.True(t, queued)

	states, err := q.SnapshotStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, uint32(7), states[0].CurrentLedger)

	refs, err := q.ReferencedBuckets()
	require.NoError(t, err)
	_, ok := refs[bucketWith(0xaa)]
	assert.True(t, ok)

	require.NoError(t, q.Remove(ctx, 7))
	refs, err = q.ReferencedBuckets()
	require.NoError(t, err)
	assert.Empty(t, refs)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReferencedBucketsRebuiltOnOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "publish.db")
	db, err := OpenSQLiteDB(dbPath)
	require.NoError(t, err)

	q := New(db, checkpoint.Frequency(8), "test-server", logrus.NewEntry(logrus.New()))
	require.NoError(t, q.Open(ctx))

	levels := make([]has.BucketListLevel, has.NumLevels)
	levels[1] = has.BucketListLevel{Curr: bucketWith(0xbb)}
	_, err = q.MaybeQueue(ctx, 7, stubSnapshotter{levels: levels}, stubArchive{writable: true})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Simulate a restart: reopen the same sqlite file fresh.
	db2, err := OpenSQLiteDB(dbPath)
	require.NoError(t, err)
	defer func() { assert.NoError(t, db2.Close()) }()

	q2 := New(db2, checkpoint.Frequency(8), "test-server", logrus.NewEntry(logrus.New()))
	require.NoError(t, q2.Open(ctx))

	refs, err := q2.ReferencedBuckets()
	require.NoError(t, err)
	_, ok := refs[bucketWith(0xbb)]
	assert.True(t, ok, "bucket reference multiset must be rebuilt from persisted rows before any GC")
}

func TestMissingBucketsDelegatesToStore(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	levels := make([]has.BucketListLevel, has.NumLevels)
	levels[0] = has.BucketListLevel{Curr: bucketWith(0xcc)}
	_, err := q.MaybeQueue(ctx, 7, stubSnapshotter{levels: levels}, stubArchive{writable: true})
	require.NoError(t, err)

	missing, err := q.MissingBuckets(fakeBucketStore{has: map[has.Bucket]bool{}})
	require.NoError(t, err)
	assert.Len(t, missing, 1)

	missing, err = q.MissingBuckets(fakeBucketStore{has: map[has.Bucket]bool{bucketWith(0xcc): true}})
	require.NoError(t, err)
	assert.Empty(t, missing)
}

type fakeBucketStore struct{ has map[has.Bucket]bool }

func (f fakeBucketStore) HasBucket(b has.Bucket) bool { return f.has[b] }
