// Package filefmt encodes and decodes the two archive file kinds the
// publish pipeline writes and the verifier reads: the per-checkpoint
// ledger-header file and the per-checkpoint transaction-set file.
//
// The real archive format is XDR; XDR wire-format plumbing is explicitly
// out of scope. This package reimplements only the observable shape those
// files have -- an ordered LHHE sequence, and an ordered set of opaque
// per-ledger transaction blobs -- using JSON, so nothing else in the
// module needs an XDR codec dependency.
package filefmt

import (
	"encoding/json"
	"fmt"

	"github.com/ledgermint/historycore/internal/historycore/has"
)

type LedgerHeaderFile struct {
	Entries []has.LedgerHeaderHistoryEntry `json:"entries"`
}

func EncodeLedgerHeaders(entries []has.LedgerHeaderHistoryEntry) ([]byte, error) {
	return json.Marshal(LedgerHeaderFile{Entries: entries})
}

func DecodeLedgerHeaders(raw []byte) ([]has.LedgerHeaderHistoryEntry, error) {
	var f LedgerHeaderFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decoding ledger header file: %w", err)
	}
	return f.Entries, nil
}

// TransactionSetFile bundles the per-ledger opaque transaction blobs for
// one checkpoint, in ledger order starting at FirstLedger.
type TransactionSetFile struct {
	FirstLedger uint32   `json:"firstLedger"`
	TxSets      [][]byte `json:"txSets"`
}

func EncodeTransactionSets(firstLedger uint32, sets [][]byte) ([]byte, error) {
	return json.Marshal(TransactionSetFile{FirstLedger: firstLedger, TxSets: sets})
}

func DecodeTransactionSets(raw []byte) (TransactionSetFile, error) {
	var f TransactionSetFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("decoding transaction set file: %w", err)
	}
	return f, nil
}
