package verify

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/ledgermint/historycore/internal/historycore/archive"
	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
	"github.com/ledgermint/historycore/internal/historycore/filefmt"
	"github.com/ledgermint/historycore/internal/historycore/has"
)

// ApplyResult reports how far an Applier call got before an optional
// failure.
type ApplyResult struct {
	Kind           ErrorKind
	LedgersApplied uint32
	// FailedAt is the ledger sequence (ApplyTransactions) or HAS anchor
	// ledger (ApplyBuckets) at which apply stopped; zero on success.
	FailedAt uint32
}

// Applier brings a LedgerManager up to a catchup plan's ApplyRange, either
// by adopting a bucket list wholesale or by replaying transactions.
type Applier struct {
	Frequency checkpoint.Frequency
}

func NewApplier(freq checkpoint.Frequency) *Applier {
	return &Applier{Frequency: freq}
}

// ApplyBuckets performs the bucket state-jump: fetch the HAS published at
// anchor, fetch and content-hash-check every bucket file it references,
// then adopt the bucket list as the live one, atomically moving lm's
// last-closed ledger to anchor without replaying anything in between. A
// bucket that is missing or whose content no longer hashes to its claimed
// address fails the jump before anything is adopted.
func (ap *Applier) ApplyBuckets(ctx context.Context, a archive.Archive, anchor uint32, lm LedgerManager) (ApplyResult, error) {
	raw, err := a.GetFile(ctx, archive.HASPath(anchor))
	if err != nil {
		return ApplyResult{Kind: classifyFetchErr(err), FailedAt: anchor},
			fmt.Errorf("fetching bucket-apply HAS at %d: %w", anchor, err)
	}
	state, err := has.UnmarshalHAS(string(raw))
	if err != nil {
		return ApplyResult{Kind: KindCorruptedArchive, FailedAt: anchor},
			fmt.Errorf("decoding bucket-apply HAS at %d: %w", anchor, err)
	}
	if state.CurrentLedger != anchor {
		return ApplyResult{Kind: KindCorruptedArchive, FailedAt: anchor},
			fmt.Errorf("HAS at %d reports currentLedger %d", anchor, state.CurrentLedger)
	}
	for _, b := range state.Buckets() {
		raw, err := a.GetFile(ctx, archive.BucketPath(b))
		if err != nil {
			return ApplyResult{Kind: classifyFetchErr(err), FailedAt: anchor},
				fmt.Errorf("fetching bucket %s for HAS at %d: %w", b, anchor, err)
		}
		if has.Bucket(sha256.Sum256(raw)) != b {
			return ApplyResult{Kind: KindHashMismatch, FailedAt: anchor},
				fmt.Errorf("bucket %s for HAS at %d: content hash does not match", b, anchor)
		}
	}
	if err := lm.AdoptBucketList(ctx, state); err != nil {
		return ApplyResult{Kind: KindCorruptedArchive, FailedAt: anchor},
			fmt.Errorf("adopting bucket list at %d: %w", anchor, err)
	}
	return ApplyResult{}, nil
}

// ApplyTransactions replays every ledger in r in order: for each covering
// checkpoint it fetches the transaction-set and ledger-header files,
// skips any ledger at or before lm's current last-closed ledger, checks
// the next ledger's prevHash against lm's current hash, hands the tx-set
// to CloseLedger, then checks the resulting hash against the archived
// LHHE before moving on.
func (ap *Applier) ApplyTransactions(ctx context.Context, a archive.Archive, r has.LedgerRange, lm LedgerManager) (ApplyResult, error) {
	f := ap.Frequency
	var result ApplyResult

	for checkpointEnd := f.ContainingLedger(r.First); checkpointEnd <= f.ContainingLedger(r.Last); checkpointEnd += uint32(f) {
		headerRaw, err := a.GetFile(ctx, archive.LedgerHeaderPath(checkpointEnd))
		if err != nil {
			return ApplyResult{Kind: classifyFetchErr(err), FailedAt: checkpointEnd, LedgersApplied: result.LedgersApplied},
				fmt.Errorf("fetching ledger headers for checkpoint %d: %w", checkpointEnd, err)
		}
		entries, err := filefmt.DecodeLedgerHeaders(headerRaw)
		if err != nil {
			return ApplyResult{Kind: KindCorruptedArchive, FailedAt: checkpointEnd, LedgersApplied: result.LedgersApplied},
				fmt.Errorf("decoding ledger headers for checkpoint %d: %w", checkpointEnd, err)
		}

		txRaw, err := a.GetFile(ctx, archive.TransactionsPath(checkpointEnd))
		if err != nil {
			return ApplyResult{Kind: classifyFetchErr(err), FailedAt: checkpointEnd, LedgersApplied: result.LedgersApplied},
				fmt.Errorf("fetching transaction sets for checkpoint %d: %w", checkpointEnd, err)
		}
		txFile, err := filefmt.DecodeTransactionSets(txRaw)
		if err != nil {
			return ApplyResult{Kind: KindCorruptedArchive, FailedAt: checkpointEnd, LedgersApplied: result.LedgersApplied},
				fmt.Errorf("decoding transaction sets for checkpoint %d: %w", checkpointEnd, err)
		}

		for _, entry := range entries {
			seq := entry.LedgerSeq
			if seq < r.First || seq > r.Last {
				continue
			}
			if seq <= lm.LastClosedLedger() {
				continue
			}
			if seq != lm.LastClosedLedger()+1 {
				return ApplyResult{Kind: KindChainBroken, FailedAt: seq, LedgersApplied: result.LedgersApplied},
					fmt.Errorf("ledger %d is not the ledger manager's next expected ledger (%d)", seq, lm.LastClosedLedger()+1)
			}
			if entry.PrevHash != lm.LastClosedHash() {
				return ApplyResult{Kind: KindChainBroken, FailedAt: seq, LedgersApplied: result.LedgersApplied},
					fmt.Errorf("ledger %d prevHash does not match the ledger manager's last-closed hash", seq)
			}

			idx := int(seq) - int(txFile.FirstLedger)
			if idx < 0 || idx >= len(txFile.TxSets) {
				return ApplyResult{Kind: KindMissingFile, FailedAt: seq, LedgersApplied: result.LedgersApplied},
					fmt.Errorf("checkpoint %d: transaction set file has no entry for ledger %d", checkpointEnd, seq)
			}

			closedHash, err := lm.CloseLedger(ctx, txFile.TxSets[idx])
			if err != nil {
				return ApplyResult{Kind: KindCorruptedArchive, FailedAt: seq, LedgersApplied: result.LedgersApplied},
					fmt.Errorf("closing ledger %d: %w", seq, err)
			}
			if closedHash != entry.Hash {
				return ApplyResult{Kind: KindHashMismatch, FailedAt: seq, LedgersApplied: result.LedgersApplied},
					fmt.Errorf("ledger %d closed with hash %s, archive expects %s", seq, closedHash, entry.Hash)
			}
			result.LedgersApplied++
		}
	}

	return result, nil
}
