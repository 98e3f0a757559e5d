// Package finder implements the single-threaded discover→dedupe→relocate→
// catalog loop described in the catalog and action packages' docs: the
// Finder watches a source location and feeds it into storage exactly once
// per distinct content hash.
package finder

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/obs-archive/endpointd/internal/action"
	"github.com/obs-archive/endpointd/internal/catalog"
	"github.com/obs-archive/endpointd/internal/checksum"
	"github.com/obs-archive/endpointd/internal/logger"
)

// Strategy produces a fresh, lazy sequence of candidate relative paths
// every time it is called. Both discovery.Scan and discovery.ParseManifests
// satisfy this shape when partially applied.
type Strategy func() iter.Seq[string]

// Config holds everything a Finder needs beyond its collaborators.
type Config struct {
	SourceDir       string
	ChecksumMethod  checksum.Method
	Pause           time.Duration
	StandardAction  action.Action
	AlternateAction action.Action
}

// Finder runs the discover/dedupe/relocate/catalog loop described in
// spec.md §4.4 until its context is cancelled.
type Finder struct {
	store  *catalog.Store
	search Strategy
	cfg    Config
	log    *zerolog.Logger
}

func New(store *catalog.Store, search Strategy, cfg Config, log *zerolog.Logger) *Finder {
	if log == nil {
		log = logger.L()
	}
	if cfg.Pause <= 0 {
		cfg.Pause = time.Second
	}
	return &Finder{store: store, search: search, cfg: cfg, log: log}
}

// Run loops until ctx is cancelled, finishing the path currently in flight
// before exiting at the next sleep boundary (spec.md §5 shutdown policy).
func (f *Finder) Run(ctx context.Context) error {
	for {
		tick := uuid.New().String()
		log := f.log.With().Str("tick", tick).Logger()
		f.runIteration(ctx, &log)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.Pause):
		}
	}
}

// runIteration drains the current strategy sequence once.
func (f *Finder) runIteration(ctx context.Context, log *zerolog.Logger) {
	for relpath := range f.search() {
		if ctx.Err() != nil {
			return
		}
		f.processOne(ctx, relpath, log)
	}
}

func (f *Finder) processOne(ctx context.Context, relpath string, log *zerolog.Logger) {
	abspath := filepath.Join(f.cfg.SourceDir, relpath)
	log = ptrLogger(log.With().Str("path", abspath).Logger())

	info, err := os.Stat(abspath)
	if err != nil {
		log.Error().Err(err).Msg("cannot stat discovered file, skipping")
		return
	}
	sum, err := checksum.Of(abspath, f.cfg.ChecksumMethod)
	if err != nil {
		log.Error().Err(err).Msg("cannot checksum discovered file, skipping")
		return
	}

	filename := filepath.Base(abspath)
	isDuplicate, err := f.isDuplicate(ctx, filename, sum, log)
	if err != nil {
		log.Error().Err(err).Msg("cannot check for duplicates, skipping")
		return
	}

	act := f.cfg.StandardAction
	if isDuplicate {
		act = f.cfg.AlternateAction
	}
	if err := act.Execute(abspath); err != nil {
		log.Error().Err(err).Bool("duplicate", isDuplicate).Msg("action failed, skipping")
		return
	}
	if isDuplicate {
		log.Info().Msg("duplicate file handled by alternative action")
		return
	}

	if err := f.commit(ctx, filepath.Dir(relpath), filename, sum, info.Size(), log); err != nil {
		log.Error().Err(err).Msg("cannot commit catalog entry, undoing action")
		if uerr := act.Undo(); uerr != nil {
			log.Error().Err(uerr).Msg("undo failed, file stranded in storage area")
		}
	}
}

func (f *Finder) isDuplicate(ctx context.Context, filename, sum string, log *zerolog.Logger) (bool, error) {
	tx, err := f.store.BeginTx(ctx)
	if err != nil {
		return false, err
	}
	dup, err := f.store.FindDuplicate(ctx, tx, filename, sum)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return dup != nil, nil
}

func (f *Finder) commit(ctx context.Context, relpath, filename, sum string, size int64, log *zerolog.Logger) error {
	tx, err := f.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	if relpath == "." {
		relpath = ""
	}
	if _, err := f.store.InsertFile(ctx, tx, relpath, filename, sum, size); err != nil {
		_ = tx.Rollback()
		var dup *catalog.DuplicateFileError
		if errors.As(err, &dup) {
			return fmt.Errorf("concurrent insert raced this one: %w", err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

func ptrLogger(l zerolog.Logger) *zerolog.Logger { return &l }
