// Package reconcile implements the two-source reconciliation tool named in
// spec.md §1: it compares what physically exists under the storage area
// against what the catalog believes exists, surfacing orphans (on disk,
// uncataloged) and ghosts (cataloged, missing from disk).
package reconcile

import (
	"context"
	"path/filepath"
	"regexp"

	"github.com/obs-archive/endpointd/internal/catalog"
	"github.com/obs-archive/endpointd/internal/discovery"
)

// Report is the outcome of one reconciliation pass.
type Report struct {
	// Orphans are storage-area paths (relative to the storage root) with
	// no corresponding files row.
	Orphans []string
	// Ghosts are catalog files whose storage-area path no longer exists.
	Ghosts []catalog.File
	// GhostsWithSuccess is the subset of Ghosts that have a SUCCESS event
	// on record — a direct violation of invariant I5.
	GhostsWithSuccess []catalog.File
}

// Run walks storageDir with the scan strategy and diffs it against every
// catalog File row.
func Run(ctx context.Context, store *catalog.Store, storageDir string, exclude []*regexp.Regexp) (Report, error) {
	onDisk := make(map[string]struct{})
	for relpath := range discovery.Scan(storageDir, exclude) {
		onDisk[relpath] = struct{}{}
	}

	tx, err := store.BeginTx(ctx)
	if err != nil {
		return Report{}, err
	}
	files, err := store.AllFiles(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return Report{}, err
	}

	cataloged := make(map[string]struct{}, len(files))
	var report Report
	for _, f := range files {
		key := filepath.Join(f.RelPath, f.Filename)
		cataloged[key] = struct{}{}
		if _, exists := onDisk[key]; exists {
			continue
		}
		report.Ghosts = append(report.Ghosts, f)
		hasSuccess, err := store.HasAnySuccessEvent(ctx, tx, f.ID)
		if err != nil {
			_ = tx.Rollback()
			return Report{}, err
		}
		if hasSuccess {
			report.GhostsWithSuccess = append(report.GhostsWithSuccess, f)
		}
	}
	if err := tx.Commit(); err != nil {
		return Report{}, err
	}

	for relpath := range onDisk {
		if _, exists := cataloged[relpath]; !exists {
			report.Orphans = append(report.Orphans, relpath)
		}
	}
	return report, nil
}
