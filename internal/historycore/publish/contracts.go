package publish

import (
	"github.com/ledgermint/historycore/internal/historycore/has"
)

// BucketMerger resolves any background bucket-merge futures referenced by
// state so their hashes are stable before the write-files phase reads
// them. Bucket-merge internals are out of scope; this is the external
// collaborator contract the publish pipeline depends on.
type BucketMerger interface {
	ResolveFutures(state has.HistoryArchiveState) (has.HistoryArchiveState, error)
}

// BucketSource supplies the raw content of a bucket by hash, for writing
// newly referenced buckets to the archive.
type BucketSource interface {
	GetBucket(b has.Bucket) ([]byte, error)
}

// LedgerHeaderSource supplies the LHHE sequence for one checkpoint, for
// writing the ledger-header file.
type LedgerHeaderSource interface {
	LedgerHeaders(first, last uint32) ([]has.LedgerHeaderHistoryEntry, error)
}

// TransactionSource supplies the opaque transaction-set blob for one
// ledger. Transaction execution semantics are out of scope; the publish
// pipeline only ever moves these bytes, never interprets them.
type TransactionSource interface {
	TransactionSet(ledger uint32) ([]byte, error)
}
