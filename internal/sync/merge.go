package sync

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zilliqa/persistence-sync/libs/log"
	tmos "github.com/zilliqa/persistence-sync/libs/os"
)

// mergeDiffDirs copies every top-level subdirectory of stagingDir into
// liveDir recursively, overwriting files that already exist, then removes
// stagingDir entirely. Per-entry copy errors are logged and skipped; the
// next snapshot round repairs anything left behind.
func mergeDiffDirs(logger log.Logger, stagingDir, liveDir string) error {
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return fmt.Errorf("reading staging directory %q: %w", stagingDir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		src := filepath.Join(stagingDir, entry.Name())
		dst := filepath.Join(liveDir, entry.Name())
		copyTree(logger, src, dst)
	}

	if err := os.RemoveAll(stagingDir); err != nil {
		return fmt.Errorf("removing staging directory %q: %w", stagingDir, err)
	}

	return nil
}

// copyTree recursively copies src into dst, continuing past per-entry
// failures.
func copyTree(logger log.Logger, src, dst string) {
	_ = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Error("diff merge: cannot visit entry", "path", path, "err", err)
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			logger.Error("diff merge: cannot relativize entry", "path", path, "err", err)
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				logger.Error("diff merge: cannot create directory", "path", target, "err", err)
			}

		case d.Type().IsRegular():
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				logger.Error("diff merge: cannot create directory", "path", filepath.Dir(target), "err", err)
				return nil
			}
			if err := tmos.CopyFile(path, target); err != nil {
				logger.Error("diff merge: cannot copy file", "src", path, "dst", target, "err", err)
			}

		default:
			// symlinks and specials do not occur in persistence diffs
		}

		return nil
	})
}
