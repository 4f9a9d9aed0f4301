package archive

import (
	"fmt"
	"path"

	"github.com/ledgermint/historycore/internal/historycore/has"
)

// hexPrefix returns the 2/2/2-hex directory prefix stellar-style archives
// file checkpoint files under, built from the low three bytes of n, e.g.
// "00/01/2c" for 0x0000012c. Bucket files use bucketHexPrefix instead.
func hexPrefix(n uint32) string {
	return fmt.Sprintf("%02x/%02x/%02x", (n>>16)&0xff, (n>>8)&0xff, n&0xff)
}

func bucketHexPrefix(b has.Bucket) string {
	return fmt.Sprintf("%02x/%02x/%02x", b[0], b[1], b[2])
}

// HASPath returns the remote path of the HAS file for the checkpoint
// ending at ledger.
func HASPath(ledger uint32) string {
	return path.Join("history", hexPrefix(ledger), fmt.Sprintf("history-%08x.json.gz", ledger))
}

// LedgerHeaderPath returns the remote path of the ledger-header file for
// the checkpoint ending at ledger.
func LedgerHeaderPath(ledger uint32) string {
	return path.Join("ledger", hexPrefix(ledger), fmt.Sprintf("ledger-%08x.xdr.gz", ledger))
}

// TransactionsPath returns the remote path of the transaction-set file for
// the checkpoint ending at ledger.
func TransactionsPath(ledger uint32) string {
	return path.Join("transactions", hexPrefix(ledger), fmt.Sprintf("transactions-%08x.xdr.gz", ledger))
}

// BucketPath returns the remote path of the content-addressed bucket file.
func BucketPath(b has.Bucket) string {
	return path.Join("bucket", bucketHexPrefix(b), fmt.Sprintf("bucket-%s.xdr.gz", b))
}

// RootHASPath is the well-known path of the archive's root (most recent)
// HAS pointer.
const RootHASPath = ".well-known/history.json"
