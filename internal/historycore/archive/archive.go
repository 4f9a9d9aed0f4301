package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
)

// ErrArchiveUnavailable classifies a failure as an ArchiveUnavailable
// error: the entry/operation fails but nothing about the archive's
// stored content is known to be corrupt.
var ErrArchiveUnavailable = errors.New("history archive unavailable")

// Archive is the narrow capability set the publish pipeline and catchup
// planner depend on. Concrete transports (local directory, git, or an
// in-memory mock for tests) are interchangeable behind this interface; the
// core never talks to S3, a shell command, or a git remote directly.
type Archive interface {
	// GetFile fetches remote and returns its (possibly gzip-compressed on
	// the wire, always decompressed here) contents.
	GetFile(ctx context.Context, remote string) ([]byte, error)
	// PutFile uploads contents to remote, gzip-compressing it first.
	PutFile(ctx context.Context, remote string, contents []byte) error
	// MkdirRemote ensures the parent directory structure for remote
	// exists. A no-op for backends with no directory concept.
	MkdirRemote(ctx context.Context, remote string) error
	// InitializeArchive prepares a brand new archive identified by name
	// (LocalArchive creates its root directory) and returns once it is
	// ready to accept uploads. No backend writes a HAS here; the root HAS
	// first appears with the first published checkpoint.
	InitializeArchive(ctx context.Context, name string) error
	// HasAnyWritable reports whether at least one archive of a
	// multi-archive configuration can currently accept uploads; queue
	// scheduling checks this before snapshotting a new checkpoint.
	HasAnyWritable() bool
}

// Name returns a human-readable identifier for diagnostics/metrics labels.
type Named interface {
	Name() string
}

func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(compressed []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
