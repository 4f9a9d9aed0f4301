package main

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ledgermint/historycore/internal/historycore/archive"
)

// openArchive resolves one --history-archive-url/--publish-archive-urls
// entry to a concrete archive.Archive. A bare path is a LocalArchive
// rooted there; anything that parses as a URL with a scheme is treated as a
// git push remote for a working tree under tmpRoot named after the URL. The
// tree is opened if it exists and initialized empty otherwise (nothing is
// cloned), so repeated runs against the same URL reuse the same tree.
func openArchive(raw, tmpRoot string, logger *logrus.Entry) (archive.Archive, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty archive URL")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return archive.NewLocalArchive(raw, logger), nil
	}

	workDir := filepath.Join(tmpRoot, "archives", sanitizeForPath(raw))
	return archive.NewGitArchive(workDir, "origin", raw, logger)
}

func sanitizeForPath(raw string) string {
	replacer := strings.NewReplacer(
		"://", "_",
		"/", "_",
		":", "_",
		"?", "_",
		"&", "_",
	)
	return replacer.Replace(raw)
}
