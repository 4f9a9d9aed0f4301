// Package historytest is an in-process test harness: a deterministic
// ledger generator, a second-node catchup driver, a validator, and a
// fault-injecting bucket generator, all built against archive.MockArchive
// rather than a docker-compose/real-core harness -- there is no captive
// core or horizon here to integrate against, so the harness plays both
// roles itself.
package historytest

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"

	"github.com/ledgermint/historycore/internal/historycore/has"
)

// CreateAccount is the operation LedgerGenerator emits once per new
// account it introduces, funded out of an existing account's balance the
// way a real network's CreateAccount op reserves from the funder.
type CreateAccount struct {
	Account         string `json:"account"`
	Funder          string `json:"funder"`
	StartingBalance int64  `json:"startingBalance"`
}

// Payment is the other synthetic operation LedgerGenerator emits: just
// enough structure (a sender, a receiver, an amount) to give the Validator
// something account-shaped to check, without any real transaction-
// execution semantics.
type Payment struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// ledgerOps is the opaque blob stored as a LedgerRecord's TxSet: create
// operations (if any new account is being introduced this ledger) ahead
// of the ledger's payments, mirroring a fixed create/payment pattern.
type ledgerOps struct {
	Creates  []CreateAccount `json:"creates,omitempty"`
	Payments []Payment       `json:"payments"`
}

// accountSnapshot is hashed into a ledger's level-2 bucket: the full
// per-account balance and sequence-number state as of that ledger, the
// deepest level of the synthetic bucket-list hierarchy this harness
// models.
type accountSnapshot struct {
	Balances map[string]int64  `json:"balances"`
	SeqNums  map[string]uint32 `json:"seqNums"`
}

// LedgerRecord is one entry in LedgerGenerator's recorded log: what went
// into the ledger at Seq and what it left behind, so a Validator run later
// can check a replayed or caught-up node reproduced the same state.
type LedgerRecord struct {
	Seq      uint32
	TxSet    []byte
	Creates  []CreateAccount
	Payments []Payment

	// Hash and BucketListHash are backfilled by RecordClose once the
	// ledger has actually been closed; Next alone cannot predict them,
	// since they depend on the close algorithm and the prevHash chain
	// rather than the generator's own bookkeeping.
	Hash           has.Hash
	BucketListHash has.Hash

	// BucketLvl0 is this ledger's own delta (its TxSet, content-addressed);
	// BucketLvl2 is a deeper, slower-moving level hashing the full account
	// snapshot as of this ledger. Both are real content-addressed buckets:
	// their bytes are retrievable from BucketContents.
	BucketLvl0 has.Bucket
	BucketLvl2 has.Bucket

	AccountBalances map[string]int64
	AccountSeqNums  map[string]uint32
}

// LedgerGenerator produces a deterministic sequence of synthetic ledgers
// from a growing set of accounts and a seeded PRNG, the way a load
// generator needs reproducible traffic rather than real account state.
type LedgerGenerator struct {
	rng             *rand.Rand
	numAccounts     int
	startingBalance int64

	accounts []string
	balances map[string]int64
	seqNums  map[string]uint32

	bucketContents map[has.Bucket][]byte
	log            []LedgerRecord
}

// NewLedgerGenerator builds a generator that introduces up to numAccounts
// accounts over time -- each funded with startingBalance out of a single
// root account's reserve -- driven by the given seed so two runs with the
// same seed produce byte-identical ledgers.
func NewLedgerGenerator(seed int64, numAccounts int, startingBalance int64) *LedgerGenerator {
	return &LedgerGenerator{
		rng:             rand.New(rand.NewSource(seed)),
		numAccounts:     numAccounts,
		startingBalance: startingBalance,
		balances:        make(map[string]int64, numAccounts),
		seqNums:         make(map[string]uint32, numAccounts),
		bucketContents:  make(map[has.Bucket][]byte),
	}
}

// Next produces the ledger at seq: at most one CreateAccount (funded from
// an existing account, until numAccounts have been introduced) followed by
// a handful of payments between randomly chosen known accounts, skipping
// any payment that would overdraw the sender so balances stay well-defined
// for the Validator to check later.
func (g *LedgerGenerator) Next(seq uint32) LedgerRecord {
	if len(g.accounts) == 0 {
		root := "account-000"
		g.accounts = append(g.accounts, root)
		g.balances[root] = g.startingBalance * int64(g.numAccounts)
	}

	var creates []CreateAccount
	if len(g.accounts) < g.numAccounts {
		acct := fmt.Sprintf("account-%03d", len(g.accounts))
		funder := g.accounts[g.rng.Intn(len(g.accounts))]
		if g.balances[funder] >= g.startingBalance {
			g.balances[funder] -= g.startingBalance
			g.balances[acct] = g.startingBalance
			g.seqNums[funder]++
			g.accounts = append(g.accounts, acct)
			creates = append(creates, CreateAccount{Account: acct, Funder: funder, StartingBalance: g.startingBalance})
		}
	}

	numPayments := 1 + g.rng.Intn(4)
	payments := make([]Payment, 0, numPayments)
	for i := 0; i < numPayments; i++ {
		from := g.accounts[g.rng.Intn(len(g.accounts))]
		to := g.accounts[g.rng.Intn(len(g.accounts))]
		if from == to {
			continue
		}
		amount := int64(1 + g.rng.Intn(100))
		if g.balances[from] < amount {
			continue
		}
		g.balances[from] -= amount
		g.balances[to] += amount
		g.seqNums[from]++
		payments = append(payments, Payment{From: from, To: to, Amount: amount})
	}

	txSet, err := json.Marshal(ledgerOps{Creates: creates, Payments: payments})
	if err != nil {
		// ledgerOps is always marshalable; a failure here means the type
		// itself is broken, not a runtime condition a caller can recover
		// from.
		panic(fmt.Sprintf("historytest: marshaling ledger %d ops: %v", seq, err))
	}

	balances := g.Balances()
	seqNums := g.seqNumSnapshot()

	lvl0 := has.Bucket(sha256.Sum256(txSet))
	g.bucketContents[lvl0] = append([]byte(nil), txSet...)

	snapshotBytes, err := json.Marshal(accountSnapshot{Balances: balances, SeqNums: seqNums})
	if err != nil {
		panic(fmt.Sprintf("historytest: marshaling ledger %d account snapshot: %v", seq, err))
	}
	lvl2 := has.Bucket(sha256.Sum256(snapshotBytes))
	g.bucketContents[lvl2] = append([]byte(nil), snapshotBytes...)

	rec := LedgerRecord{
		Seq:             seq,
		TxSet:           txSet,
		Creates:         creates,
		Payments:        payments,
		BucketLvl0:      lvl0,
		BucketLvl2:      lvl2,
		AccountBalances: balances,
		AccountSeqNums:  seqNums,
	}
	g.log = append(g.log, rec)
	return rec
}

// RecordClose backfills the ledger header hash and bucket-list hash a real
// close produced for seq, once the driver has actually closed it.
func (g *LedgerGenerator) RecordClose(seq uint32, hash, bucketListHash has.Hash) {
	for i := range g.log {
		if g.log[i].Seq == seq {
			g.log[i].Hash = hash
			g.log[i].BucketListHash = bucketListHash
			return
		}
	}
}

// Balances returns a snapshot of the generator's current account balances.
func (g *LedgerGenerator) Balances() map[string]int64 {
	out := make(map[string]int64, len(g.balances))
	for k, v := range g.balances {
		out[k] = v
	}
	return out
}

// SeqNums returns a snapshot of the generator's current per-account
// sequence numbers -- the count of operations each account has sent so
// far, the way a real account's sequence number advances with every
// transaction it submits.
func (g *LedgerGenerator) SeqNums() map[string]uint32 {
	return g.seqNumSnapshot()
}

func (g *LedgerGenerator) seqNumSnapshot() map[string]uint32 {
	out := make(map[string]uint32, len(g.seqNums))
	for k, v := range g.seqNums {
		out[k] = v
	}
	return out
}

// BucketContents returns the content-addressed bytes behind every
// level-0/level-2 bucket Next has produced so far, keyed by bucket hash --
// what a test publishes into the archive so a validator can fetch each
// required bucket back out by its claimed address.
func (g *LedgerGenerator) BucketContents() map[has.Bucket][]byte {
	out := make(map[has.Bucket][]byte, len(g.bucketContents))
	for k, v := range g.bucketContents {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// Log returns every ledger produced so far, in generation order.
func (g *LedgerGenerator) Log() []LedgerRecord {
	out := make([]LedgerRecord, len(g.log))
	copy(out, g.log)
	return out
}

// Accounts returns every account introduced so far, in creation order.
func (g *LedgerGenerator) Accounts() []string {
	out := make([]string, len(g.accounts))
	copy(out, g.accounts)
	sort.Strings(out)
	return out
}
