package flusher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/blockflush/internal/logger"
)

// recoverDirtyLogs walks the cache root and requeues every dirty log
// segment left behind by a previous process lifetime.
//
// A missing root means a fresh start, not an error. Subdirectories that
// cannot be listed are treated as empty; a partial scan beats no scan.
// Returns the number of segments requeued.
func (f *Flusher) recoverDirtyLogs() int {
	root := f.cfg.CacheRoot
	if root == "" {
		return 0
	}

	if _, err := os.Stat(root); os.IsNotExist(err) {
		logger.Info("No existing dirty logs found", "path", root)
		return 0
	}

	logger.Info("Checking for leftover dirty logs", "path", root)

	found := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("Skipping unreadable path during recovery scan",
				"path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasPrefix(d.Name(), DirtyLogPrefix) {
			return nil
		}

		logger.Info("Found leftover dirty log",
			"dir", filepath.Dir(path), "segment", d.Name())

		f.SubmitFlush(filepath.Dir(path), d.Name())
		if f.metrics != nil {
			f.metrics.RecordSegmentRecovered()
		}
		found++
		return nil
	})

	return found
}
