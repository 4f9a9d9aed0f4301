package historytest

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/ledgermint/historycore/internal/historycore/archive"
	"github.com/ledgermint/historycore/internal/historycore/has"
)

// BucketFault names the synthetic bucket variant BucketGenerator should
// produce, mirroring the verifier's error taxonomy one-for-one so a test
// can pick the exact failure mode it wants to exercise.
type BucketFault int

const (
	ContentsOK BucketFault = iota
	FileNotUploaded
	CorruptedZippedFile
	HashMismatch
)

// BucketGenerator writes synthetic buckets into an archive.MockArchive,
// optionally injecting one of the verifier's fault kinds so tests can
// drive Verifier/Applier down each of their error paths without needing a
// real bucket-merge implementation.
type BucketGenerator struct {
	seq int
}

func NewBucketGenerator() *BucketGenerator {
	return &BucketGenerator{}
}

// Put writes a bucket with deterministic, distinguishable content and
// arranges for fault to be the outcome of every GetFile against it.
func (g *BucketGenerator) Put(ctx context.Context, a *archive.MockArchive, fault BucketFault) (has.Bucket, error) {
	g.seq++
	contents := []byte(fmt.Sprintf("historytest-bucket-%d", g.seq))
	b := has.Bucket(sha256.Sum256(contents))

	path := archive.BucketPath(b)
	if err := a.PutFile(ctx, path, contents); err != nil {
		return has.Bucket{}, err
	}

	switch fault {
	case FileNotUploaded:
		a.InjectFault(path, archive.FaultNotUploaded)
	case CorruptedZippedFile:
		a.InjectFault(path, archive.FaultCorruptedGzip)
	case HashMismatch:
		a.InjectFault(path, archive.FaultHashMismatch)
	case ContentsOK:
		// no fault: GetFile returns exactly what was written.
	}
	return b, nil
}
