// Package verify implements the chain verifier that walks a span of
// published checkpoints newest-to-oldest checking hash continuity, and the
// applier that brings a LedgerManager up to date either by a bucket
// state-jump or by replaying transactions checkpoint by checkpoint.
package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/mod/semver"

	"github.com/ledgermint/historycore/internal/historycore/archive"
	"github.com/ledgermint/historycore/internal/historycore/checkpoint"
	"github.com/ledgermint/historycore/internal/historycore/filefmt"
	"github.com/ledgermint/historycore/internal/historycore/has"
)

// ErrorKind classifies a verify/apply failure. It is carried on
// VerifyResult/ApplyResult rather than as distinct error types, classified
// inline instead of through a dedicated error-code package.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindHashMismatch
	KindChainBroken
	KindMissingFile
	KindCorruptedArchive
)

func (k ErrorKind) String() string {
	switch k {
	case KindHashMismatch:
		return "HashMismatch"
	case KindChainBroken:
		return "ChainBroken"
	case KindMissingFile:
		return "MissingFile"
	case KindCorruptedArchive:
		return "CorruptedArchive"
	default:
		return "None"
	}
}

// MinHistoryFormatVersion is the oldest archive writer version this
// verifier trusts; a HAS reporting an older major version is rejected
// before its bucket layout is read, as a CorruptedArchive failure.
const MinHistoryFormatVersion = "v2.0.0"

// VerifyResult reports how much of the requested range was confirmed
// before an optional failure.
type VerifyResult struct {
	Kind        ErrorKind
	Checkpoints uint32
	Ledgers     uint32
	// FailedAt is the checkpoint-ending ledger at which verification
	// stopped; zero on success.
	FailedAt uint32
}

// Verifier checks the intra- and inter-checkpoint hash chain of a span of
// published checkpoints against a trust anchor.
type Verifier struct {
	Frequency checkpoint.Frequency

	chainSuccess prometheus.Counter
	chainFailure prometheus.Counter
}

// NewVerifier builds a Verifier; registry may be nil in tests that don't
// care about metrics, the way publish.NewPipeline treats its registry.
func NewVerifier(freq checkpoint.Frequency, registry *prometheus.Registry, namespace string) *Verifier {
	v := &Verifier{
		Frequency: freq,
		chainSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "history", Name: "verify_ledger_chain_success_total",
			Help: "number of checkpoint chain verifications that completed without a hash or chain failure",
		}),
		chainFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "history", Name: "verify_ledger_chain_failure_total",
			Help: "number of checkpoint chain verifications that found a hash or chain failure",
		}),
	}
	if registry != nil {
		registry.MustRegister(v.chainSuccess, v.chainFailure)
	}
	return v
}

// VerifyRange walks the checkpoints covering r, from the checkpoint ending
// at r.Last backward to the checkpoint containing r.First, confirming:
//   - the newest checkpoint's trailing hash equals trustAnchor (an
//     out-of-band hash, usually the apply range's own TrustAnchor ledger
//     hash from a separately-fetched HAS);
//   - every entry's own hash is a correct function of its fields;
//   - ledger sequences increment by one and prevHash chains correctly,
//     both within a checkpoint and across the boundary to the next-older
//     one.
//
// It also rejects an incompatible HistoryFormatVersion on the newest
// checkpoint's HAS before trusting anything about its bucket layout.
func (v *Verifier) VerifyRange(ctx context.Context, a archive.Archive, r has.LedgerRange, trustAnchor has.Hash) (VerifyResult, error) {
	result, err := v.verifyRange(ctx, a, r, trustAnchor)
	if err != nil {
		v.chainFailure.Inc()
	} else {
		v.chainSuccess.Inc()
	}
	return result, err
}

func (v *Verifier) verifyRange(ctx context.Context, a archive.Archive, r has.LedgerRange, trustAnchor has.Hash) (VerifyResult, error) {
	f := v.Frequency
	newest := f.ContainingLedger(r.Last)
	oldestBoundary := f.ContainingLedger(r.First)

	if kind, err := v.checkFormatVersion(ctx, a, newest); err != nil {
		return VerifyResult{Kind: kind, FailedAt: newest}, err
	}

	var result VerifyResult
	requiredHash := trustAnchor
	checkpointEnd := newest
	for {
		entries, kind, err := v.fetchCheckpoint(ctx, a, checkpointEnd)
		if err != nil {
			result.Kind, result.FailedAt = kind, checkpointEnd
			return result, err
		}
		if len(entries) == 0 {
			result.Kind, result.FailedAt = KindChainBroken, checkpointEnd
			return result, fmt.Errorf("checkpoint %d: ledger header file has no entries", checkpointEnd)
		}

		last := entries[len(entries)-1]
		if last.ComputeHash() != last.Hash {
			result.Kind, result.FailedAt = KindHashMismatch, checkpointEnd
			return result, fmt.Errorf("checkpoint %d: ledger %d hash does not match its own contents", checkpointEnd, last.LedgerSeq)
		}
		if last.Hash != requiredHash {
			result.Kind, result.FailedAt = KindHashMismatch, checkpointEnd
			return result, fmt.Errorf("checkpoint %d: trailing hash %s does not match trusted %s", checkpointEnd, last.Hash, requiredHash)
		}

		prev := entries[0]
		if prev.ComputeHash() != prev.Hash {
			result.Kind, result.FailedAt = KindHashMismatch, checkpointEnd
			return result, fmt.Errorf("checkpoint %d: ledger %d hash does not match its own contents", checkpointEnd, prev.LedgerSeq)
		}
		for i := 1; i < len(entries); i++ {
			cur := entries[i]
			if cur.LedgerSeq != prev.LedgerSeq+1 {
				result.Kind, result.FailedAt = KindChainBroken, checkpointEnd
				return result, fmt.Errorf("checkpoint %d: ledger sequence gap between %d and %d", checkpointEnd, prev.LedgerSeq, cur.LedgerSeq)
			}
			if cur.PrevHash != prev.Hash {
				result.Kind, result.FailedAt = KindChainBroken, checkpointEnd
				return result, fmt.Errorf("checkpoint %d: ledger %d prevHash does not chain from ledger %d", checkpointEnd, cur.LedgerSeq, prev.LedgerSeq)
			}
			if cur.ComputeHash() != cur.Hash {
				result.Kind, result.FailedAt = KindHashMismatch, checkpointEnd
				return result, fmt.Errorf("checkpoint %d: ledger %d hash does not match its own contents", checkpointEnd, cur.LedgerSeq)
			}
			prev = cur
		}

		result.Checkpoints++
		result.Ledgers += uint32(len(entries))
		requiredHash = entries[0].PrevHash

		if checkpointEnd <= oldestBoundary || checkpointEnd < uint32(f) {
			break
		}
		checkpointEnd -= uint32(f)
	}

	return result, nil
}

func (v *Verifier) fetchCheckpoint(ctx context.Context, a archive.Archive, checkpointEnd uint32) ([]has.LedgerHeaderHistoryEntry, ErrorKind, error) {
	raw, err := a.GetFile(ctx, archive.LedgerHeaderPath(checkpointEnd))
	if err != nil {
		return nil, classifyFetchErr(err), fmt.Errorf("fetching ledger headers for checkpoint %d: %w", checkpointEnd, err)
	}
	entries, err := filefmt.DecodeLedgerHeaders(raw)
	if err != nil {
		return nil, KindCorruptedArchive, fmt.Errorf("decoding ledger headers for checkpoint %d: %w", checkpointEnd, err)
	}
	return entries, KindNone, nil
}

func (v *Verifier) checkFormatVersion(ctx context.Context, a archive.Archive, checkpointEnd uint32) (ErrorKind, error) {
	raw, err := a.GetFile(ctx, archive.HASPath(checkpointEnd))
	if err != nil {
		return classifyFetchErr(err), fmt.Errorf("fetching HAS for checkpoint %d: %w", checkpointEnd, err)
	}
	state, err := has.UnmarshalHAS(string(raw))
	if err != nil {
		return KindCorruptedArchive, fmt.Errorf("decoding HAS for checkpoint %d: %w", checkpointEnd, err)
	}
	if !semver.IsValid(state.HistoryFormatVersion) {
		return KindCorruptedArchive, fmt.Errorf("checkpoint %d: HAS reports invalid version %q", checkpointEnd, state.HistoryFormatVersion)
	}
	if semver.Compare(semver.Major(state.HistoryFormatVersion), semver.Major(MinHistoryFormatVersion)) < 0 {
		return KindCorruptedArchive, fmt.Errorf("checkpoint %d: HAS version %s predates minimum supported %s", checkpointEnd, state.HistoryFormatVersion, MinHistoryFormatVersion)
	}
	return KindNone, nil
}

// classifyFetchErr distinguishes a file that was simply never uploaded
// (MissingFile) from one that exists but cannot be trusted -- corrupted on
// the wire, undecodable -- which is CorruptedArchive.
func classifyFetchErr(err error) ErrorKind {
	if errors.Is(err, archive.ErrArchiveUnavailable) {
		return KindMissingFile
	}
	return KindCorruptedArchive
}
