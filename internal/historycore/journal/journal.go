// Package journal provides an in-process recorder that sits behind
// node.CloseAlgorithm and in front of the publish pipeline, the way
// historytest's recordingCloseAlgorithm does for tests -- except safe for
// concurrent use by a running daemon, where CloseLedger is invoked from
// the RPC goroutine while the publish loop reads LedgerHeaders/TransactionSet
// from a timer goroutine.
//
// Bucket-merge and transaction execution remain out of scope; Journal's
// BucketMerger is the identity and its BucketSource
// only ever serves buckets it was told about via RememberBucket, mirroring the
// placeholder posture node.PlaceholderCloseAlgorithm already takes for
// consensus.
package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/ledgermint/historycore/internal/historycore/has"
	"github.com/ledgermint/historycore/internal/historycore/node"
)

// Journal records every closed ledger's header and transaction-set bytes,
// and serves them back out through the interfaces publish.Pipeline needs.
type Journal struct {
	inner node.CloseAlgorithm

	mu      sync.RWMutex
	entries map[uint32]has.LedgerHeaderHistoryEntry
	txSets  map[uint32][]byte
	buckets map[has.Bucket][]byte
}

// New wraps inner, the real (or placeholder) close algorithm, with a
// journal of everything it produces.
func New(inner node.CloseAlgorithm) *Journal {
	return &Journal{
		inner:   inner,
		entries: make(map[uint32]has.LedgerHeaderHistoryEntry),
		txSets:  make(map[uint32][]byte),
		buckets: make(map[has.Bucket][]byte),
	}
}

// CloseLedger implements node.CloseAlgorithm.
func (j *Journal) CloseLedger(ctx context.Context, prevHash has.Hash, ledgerSeq uint32, txSet []byte) (has.LedgerHeaderHistoryEntry, error) {
	entry, err := j.inner.CloseLedger(ctx, prevHash, ledgerSeq, txSet)
	if err != nil {
		return entry, err
	}
	j.mu.Lock()
	j.entries[ledgerSeq] = entry
	j.txSets[ledgerSeq] = txSet
	j.mu.Unlock()
	return entry, nil
}

// RememberBucket records a bucket's contents so a later GetBucket call
// (made by the publish pipeline while writing a checkpoint that
// references it) can be served. Out-of-scope bucket-merge logic is
// expected to call this as it produces new buckets.
func (j *Journal) RememberBucket(b has.Bucket, contents []byte) {
	j.mu.Lock()
	j.buckets[b] = contents
	j.mu.Unlock()
}

// LedgerHeaders implements publish.LedgerHeaderSource.
func (j *Journal) LedgerHeaders(first, last uint32) ([]has.LedgerHeaderHistoryEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]has.LedgerHeaderHistoryEntry, 0, last-first+1)
	for l := first; l <= last; l++ {
		entry, ok := j.entries[l]
		if !ok {
			return nil, fmt.Errorf("journal has no recorded ledger header for %d", l)
		}
		out = append(out, entry)
	}
	return out, nil
}

// TransactionSet implements publish.TransactionSource.
func (j *Journal) TransactionSet(ledger uint32) ([]byte, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	ts, ok := j.txSets[ledger]
	if !ok {
		return nil, fmt.Errorf("journal has no recorded transaction set for ledger %d", ledger)
	}
	return ts, nil
}

// GetBucket implements publish.BucketSource.
func (j *Journal) GetBucket(b has.Bucket) ([]byte, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	contents, ok := j.buckets[b]
	if !ok {
		return nil, fmt.Errorf("journal has no recorded bucket %s", b)
	}
	return contents, nil
}

// ResolveFutures implements publish.BucketMerger as the identity: bucket
// merge is out of scope, so whatever HistoryArchiveState the queue already
// holds is exactly what gets published.
func (j *Journal) ResolveFutures(state has.HistoryArchiveState) (has.HistoryArchiveState, error) {
	return state, nil
}
