package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// LocalArchive stores checkpoint files under a plain directory tree,
// gzip-compressed on disk exactly as a real object-store archive would be
// on the wire. It is the simplest of the three Archive implementations;
// MockArchive is its in-memory counterpart.
type LocalArchive struct {
	root   string
	logger *logrus.Entry
}

func NewLocalArchive(root string, logger *logrus.Entry) *LocalArchive {
	return &LocalArchive{root: root, logger: logger}
}

func (a *LocalArchive) Name() string { return fmt.Sprintf("local:%s", a.root) }

func (a *LocalArchive) GetFile(_ context.Context, remote string) ([]byte, error) {
	compressed, err := os.ReadFile(filepath.Join(a.root, filepath.FromSlash(remote)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArchiveUnavailable, remote)
		}
		return nil, err
	}
	return gunzipBytes(compressed)
}

func (a *LocalArchive) PutFile(_ context.Context, remote string, contents []byte) error {
	compressed, err := gzipBytes(contents)
	if err != nil {
		return err
	}
	full := filepath.Join(a.root, filepath.FromSlash(remote))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, full)
}

func (a *LocalArchive) MkdirRemote(_ context.Context, remote string) error {
	return os.MkdirAll(filepath.Dir(filepath.Join(a.root, filepath.FromSlash(remote))), 0o755)
}

func (a *LocalArchive) InitializeArchive(_ context.Context, name string) error {
	a.logger.WithField("archive", name).Info("initializing local history archive")
	return os.MkdirAll(a.root, 0o755)
}

func (a *LocalArchive) HasAnyWritable() bool {
	info, err := os.Stat(a.root)
	return err == nil && info.IsDir()
}
