package node

import (
	"context"
	"crypto/sha256"

	"github.com/ledgermint/historycore/internal/historycore/has"
)

// CloseAlgorithm is the out-of-scope ledger-close engine: given the
// previous ledger's hash, the next sequence number, and an opaque
// transaction set, it executes consensus and returns the resulting
// ledger's header. Transaction execution semantics live elsewhere; this
// is the external collaborator contract DefaultLedgerManager depends on,
// the same way publish.Config depends on a BucketMerger it never looks
// inside of.
type CloseAlgorithm interface {
	CloseLedger(ctx context.Context, prevHash has.Hash, ledgerSeq uint32, txSet []byte) (has.LedgerHeaderHistoryEntry, error)
}

// PlaceholderCloseAlgorithm stands in for a real consensus-apply engine.
// It derives BucketListHash from the transaction set's own bytes and
// advances CloseTime by a fixed step per ledger rather than reading the
// wall clock, so replaying the same inputs during catchup reproduces the
// same chain a live run would have produced.
type PlaceholderCloseAlgorithm struct {
	startCloseTime uint64
}

func NewPlaceholderCloseAlgorithm(startCloseTime uint64) *PlaceholderCloseAlgorithm {
	return &PlaceholderCloseAlgorithm{startCloseTime: startCloseTime}
}

func (p *PlaceholderCloseAlgorithm) CloseLedger(_ context.Context, prevHash has.Hash, ledgerSeq uint32, txSet []byte) (has.LedgerHeaderHistoryEntry, error) {
	entry := has.LedgerHeaderHistoryEntry{
		LedgerSeq:      ledgerSeq,
		PrevHash:       prevHash,
		BucketListHash: sha256.Sum256(txSet),
		CloseTime:      p.startCloseTime + uint64(ledgerSeq)*5,
		Version:        1,
	}
	entry.Hash = entry.ComputeHash()
	return entry, nil
}
