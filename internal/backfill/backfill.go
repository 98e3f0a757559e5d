// Package backfill seeds the catalog from files already present in the
// storage area before the pipeline was deployed, marking them BACKFILL
// rather than re-running them through the Ingester's normal statuses.
package backfill

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/obs-archive/endpointd/internal/catalog"
	"github.com/obs-archive/endpointd/internal/checksum"
	"github.com/obs-archive/endpointd/internal/discovery"
	"github.com/obs-archive/endpointd/internal/logger"
)

// Counts tallies the outcome of a Run, mirroring the original tool's
// end-of-run summary.
type Counts struct {
	Tracked int
	Success int
	Failure int
}

// Run walks storageDir with the scan strategy, inserting a File + BACKFILL
// Event pair in one transaction for every path not already cataloged.
// Already-tracked files are counted and skipped. It returns a non-nil
// error only after the full walk, aggregating every failure encountered —
// matching the original tool's deferred error reporting.
func Run(ctx context.Context, store *catalog.Store, storageDir string, exclude []*regexp.Regexp, method checksum.Method, log *zerolog.Logger) (Counts, error) {
	if log == nil {
		log = logger.L()
	}
	var counts Counts
	var failures []string

	for relpath := range discovery.Scan(storageDir, exclude) {
		abspath := filepath.Join(storageDir, relpath)
		dir := filepath.Dir(relpath)
		if dir == "." {
			dir = ""
		}
		filename := filepath.Base(relpath)

		tracked, size, err := backfillOne(ctx, store, abspath, dir, filename, method)
		switch {
		case err != nil:
			log.Error().Err(err).Str("path", relpath).Msg("backfill attempt failed")
			counts.Failure++
			failures = append(failures, fmt.Sprintf("%s: %v", relpath, err))
		case tracked:
			counts.Tracked++
		default:
			counts.Success++
			log.Debug().Str("path", relpath).Int64("size", size).Msg("backfilled")
		}
	}

	total := counts.Tracked + counts.Success + counts.Failure
	if total == 0 {
		log.Warn().Msg("no files meeting search criteria found")
		return counts, nil
	}
	log.Info().Int("total", total).Int("tracked", counts.Tracked).
		Int("success", counts.Success).Int("failure", counts.Failure).Msg("backfill complete")
	if counts.Failure > 0 {
		return counts, fmt.Errorf("%d out of %d backfill attempts failed: %v", counts.Failure, total, failures)
	}
	return counts, nil
}

func backfillOne(ctx context.Context, store *catalog.Store, abspath, relpath, filename string, method checksum.Method) (tracked bool, size int64, err error) {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return false, 0, err
	}

	existing, err := store.FileByRelPath(ctx, tx, relpath, filename)
	if err != nil {
		_ = tx.Rollback()
		return false, 0, err
	}
	if existing != nil {
		_ = tx.Commit()
		return true, 0, nil
	}

	sum, err := checksum.Of(abspath, method)
	if err != nil {
		_ = tx.Rollback()
		return false, 0, err
	}
	info, err := statSize(abspath)
	if err != nil {
		_ = tx.Rollback()
		return false, 0, err
	}

	id, err := store.InsertFile(ctx, tx, relpath, filename, sum, info)
	if err != nil {
		_ = tx.Rollback()
		return false, 0, err
	}
	if err := store.InsertEvent(ctx, tx, catalog.NewEvent(id, catalog.StatusBackfill, time.Now().UTC())); err != nil {
		_ = tx.Rollback()
		return false, 0, err
	}
	if err := tx.Commit(); err != nil {
		return false, 0, err
	}
	return false, info, nil
}
