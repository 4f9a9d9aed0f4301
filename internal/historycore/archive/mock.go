package archive

import (
	"context"
	"fmt"
	"sync"
)

// Fault lets tests force a specific failure mode for one remote path,
// exercising the verifier's error paths the way historytest's bucket
// generator (CONTENTS_OK / FILE_NOT_UPLOADED / CORRUPTED_ZIPPED_FILE /
// HASH_MISMATCH) requires.
type Fault int

const (
	FaultNone Fault = iota
	FaultNotUploaded
	FaultCorruptedGzip
	FaultHashMismatch // content is swapped for different-but-valid bytes
)

// MockArchive is an in-memory Archive used by historytest and by unit
// tests elsewhere in the module; it never touches disk.
type MockArchive struct {
	mu        sync.Mutex
	writable  bool
	files     map[string][]byte
	faults    map[string]Fault
	swapBytes []byte
}

func NewMockArchive() *MockArchive {
	return &MockArchive{
		writable: true,
		files:    make(map[string][]byte),
		faults:   make(map[string]Fault),
	}
}

func (a *MockArchive) Name() string { return "mock" }

// SetWritable toggles HasAnyWritable, letting tests simulate every
// configured archive going offline.
func (a *MockArchive) SetWritable(w bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.writable = w
}

// InjectFault arranges for every later GetFile(remote) to fail in the given
// way, regardless of what PutFile stored; injecting FaultNone restores
// normal reads.
func (a *MockArchive) InjectFault(remote string, fault Fault) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults[remote] = fault
}

func (a *MockArchive) GetFile(_ context.Context, remote string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.faults[remote] {
	case FaultNotUploaded:
		return nil, fmt.Errorf("%w: %s", ErrArchiveUnavailable, remote)
	case FaultCorruptedGzip:
		return nil, fmt.Errorf("corrupted archive file %s: unexpected EOF in gzip stream", remote)
	case FaultHashMismatch:
		contents, ok := a.files[remote]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrArchiveUnavailable, remote)
		}
		return mutate(contents), nil
	}
	contents, ok := a.files[remote]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArchiveUnavailable, remote)
	}
	out := make([]byte, len(contents))
	copy(out, contents)
	return out, nil
}

func (a *MockArchive) PutFile(_ context.Context, remote string, contents []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	stored := make([]byte, len(contents))
	copy(stored, contents)
	a.files[remote] = stored
	return nil
}

func (a *MockArchive) MkdirRemote(_ context.Context, _ string) error {
	return nil
}

func (a *MockArchive) InitializeArchive(_ context.Context, _ string) error {
	return nil
}

func (a *MockArchive) HasAnyWritable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writable
}

// Has reports whether remote was ever stored (ignoring injected faults);
// historytest.Validator uses it to assert a checkpoint's buckets are
// still hosted by the archive.
func (a *MockArchive) Has(remote string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.files[remote]
	return ok
}

// mutate flips the last byte of the decompressed-on-read path so the
// content no longer matches its original hash, without otherwise changing
// its shape -- used by FaultHashMismatch.
func mutate(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	if len(out) > 0 {
		out[len(out)-1] ^= 0xff
	}
	return out
}
