// Package cleaner implements the time-based cache cleaner named in
// spec.md §1: it prunes files older than a configured age and the empty
// directories left behind, without touching the catalog (files are
// pruned externally; the catalog is not told).
package cleaner

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/obs-archive/endpointd/internal/logger"
)

// Counts tallies what a Run removed.
type Counts struct {
	FilesRemoved int
	DirsRemoved  int
}

// Run deletes regular files under root whose modification time is older
// than maxAge, then removes directories left empty by that deletion,
// working bottom-up so a chain of now-empty parents is fully pruned.
func Run(root string, maxAge time.Duration, log *zerolog.Logger) (Counts, error) {
	if log == nil {
		log = logger.L()
	}
	var counts Counts
	cutoff := time.Now().Add(-maxAge)

	var dirs []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				log.Error().Err(err).Str("path", path).Msg("cannot remove stale file")
				return nil
			}
			counts.FilesRemoved++
			log.Debug().Str("path", path).Msg("removed stale file")
		}
		return nil
	})
	if err != nil {
		return counts, err
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		dir := dirs[i]
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			continue
		}
		counts.DirsRemoved++
		log.Debug().Str("path", dir).Msg("removed empty directory")
	}
	return counts, nil
}
