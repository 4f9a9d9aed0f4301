package verify

import "github.com/ledgermint/historycore/internal/historycore/has"

// buildChain produces a hash-correct LHHE sequence for ledgers [first,
// last], chaining from genesisPrev (the hash the very first entry's
// PrevHash must equal).
func buildChain(first, last uint32, genesisPrev has.Hash) []has.LedgerHeaderHistoryEntry {
	entries := make([]has.LedgerHeaderHistoryEntry, 0, last-first+1)
	prevHash := genesisPrev
	for seq := first; seq <= last; seq++ {
		e := has.LedgerHeaderHistoryEntry{
			LedgerSeq:      seq,
			PrevHash:       prevHash,
			BucketListHash: has.Hash{byte(seq), byte(seq >> 8)},
			CloseTime:      uint64(seq) * 5,
			Version:        1,
		}
		e.Hash = e.ComputeHash()
		entries = append(entries, e)
		prevHash = e.Hash
	}
	return entries
}

// sliceOf returns the entries in chain with LedgerSeq in [first, last].
func sliceOf(chain []has.LedgerHeaderHistoryEntry, first, last uint32) []has.LedgerHeaderHistoryEntry {
	var out []has.LedgerHeaderHistoryEntry
	for _, e := range chain {
		if e.LedgerSeq >= first && e.LedgerSeq <= last {
			out = append(out, e)
		}
	}
	return out
}
