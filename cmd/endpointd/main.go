package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"iter"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/obs-archive/endpointd/config"
	"github.com/obs-archive/endpointd/internal/action"
	"github.com/obs-archive/endpointd/internal/backfill"
	"github.com/obs-archive/endpointd/internal/catalog"
	"github.com/obs-archive/endpointd/internal/checksum"
	"github.com/obs-archive/endpointd/internal/cleaner"
	"github.com/obs-archive/endpointd/internal/discovery"
	"github.com/obs-archive/endpointd/internal/finder"
	"github.com/obs-archive/endpointd/internal/ingester"
	"github.com/obs-archive/endpointd/internal/logger"
	"github.com/obs-archive/endpointd/internal/plugin"
	"github.com/obs-archive/endpointd/internal/reconcile"
)

// main is the entry point of the endpointd daemon.
//
// Modes (selected via --mode flag). The original project ran a separate
// endpointd and ingestd daemon per host; this binary keeps that one-role-
// per-process default but also offers "both" for small deployments that
// want a single process running both loops.
//   - finder:    runs the discover/dedupe/relocate loop.
//   - ingester:  runs the batch ingest loop.
//   - both:      runs finder and ingester concurrently in one process.
//   - backfill:  seeds the catalog from files already in the storage area.
//   - clean:     prunes stale files and empty directories from a directory.
//   - reconcile: reports orphans and ghosts between disk and catalog, then exits.
func main() {
	configPath := flag.String("config", "endpointd.yaml", "path to YAML configuration file")
	mode := flag.String("mode", "finder", "Mode: finder, ingester, both, backfill, clean, reconcile")
	cleanDir := flag.String("clean-dir", "", "directory to prune (clean mode only, defaults to ingester.storage)")
	maxAge := flag.Duration("max-age", 7*24*time.Hour, "maximum file age before pruning (clean mode only)")
	flag.Parse()

	logger.Init()
	log := logger.L()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	store, err := catalog.Open(cfg.Database.DSN(), cfg.Database.TableNames())
	if err != nil {
		log.Fatal().Err(err).Msg("catalog connect failed")
	}
	defer func() { _ = store.Close() }()

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("migration connect failed")
	}
	if err := catalog.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("catalog migration failed")
	}
	_ = db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "finder":
		if err := runFinder(ctx, store, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("finder failed")
		}
	case "ingester":
		if err := runIngester(ctx, store, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("ingester failed")
		}
	case "both":
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return runFinder(gctx, store, cfg, log) })
		g.Go(func() error { return runIngester(gctx, store, cfg, log) })
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("daemon failed")
		}
	case "backfill":
		exclude, err := discovery.CompileExcludes(cfg.Finder.SearchExcludeList)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid exclude pattern")
		}
		counts, err := backfill.Run(ctx, store, cfg.Finder.Storage, exclude, checksum.Method(cfg.Finder.ChecksumMethod), log)
		log.Info().Int("tracked", counts.Tracked).Int("success", counts.Success).Int("failure", counts.Failure).Msg("backfill complete")
		if err != nil {
			log.Fatal().Err(err).Msg("backfill reported failures")
		}
	case "clean":
		dir := *cleanDir
		if dir == "" {
			dir = cfg.Ingester.Storage
		}
		counts, err := cleaner.Run(dir, *maxAge, log)
		if err != nil {
			log.Fatal().Err(err).Msg("clean failed")
		}
		log.Info().Int("files_removed", counts.FilesRemoved).Int("dirs_removed", counts.DirsRemoved).Msg("clean complete")
	case "reconcile":
		exclude, err := discovery.CompileExcludes(cfg.Finder.SearchExcludeList)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid exclude pattern")
		}
		report, err := reconcile.Run(ctx, store, cfg.Ingester.Storage, exclude)
		if err != nil {
			log.Fatal().Err(err).Msg("reconcile failed")
		}
		log.Info().
			Int("orphans", len(report.Orphans)).
			Int("ghosts", len(report.Ghosts)).
			Int("ghosts_with_success", len(report.GhostsWithSuccess)).
			Msg("reconcile complete")
		if len(report.GhostsWithSuccess) > 0 {
			log.Warn().Strs("files", ghostNames(report.GhostsWithSuccess)).Msg("cataloged files with a SUCCESS event are missing from storage")
		}
	default:
		log.Fatal().Str("mode", *mode).Msg("unknown mode")
	}

	log.Info().Msg("endpointd exited cleanly")
}

func runFinder(ctx context.Context, store *catalog.Store, cfg config.Config, log *zerolog.Logger) error {
	sub := log.With().Str("component", "finder").Logger()

	exclude, err := discovery.CompileExcludes(cfg.Finder.SearchExcludeList)
	if err != nil {
		return fmt.Errorf("finder: invalid exclude pattern: %w", err)
	}
	strategy, err := strategyFor(cfg.Finder, exclude, &sub)
	if err != nil {
		return err
	}
	standard, err := actionFor(cfg.Finder.ActionStandard, cfg.Finder.Source, cfg.Finder.Storage)
	if err != nil {
		return fmt.Errorf("finder: standard action: %w", err)
	}
	alternate, err := actionFor(cfg.Finder.ActionAlternative, cfg.Finder.Source, cfg.Finder.Storage)
	if err != nil {
		return fmt.Errorf("finder: alternative action: %w", err)
	}

	f := finder.New(store, strategy, finder.Config{
		SourceDir:       cfg.Finder.Source,
		ChecksumMethod:  checksum.Method(cfg.Finder.ChecksumMethod),
		Pause:           time.Duration(cfg.Finder.PauseSeconds) * time.Second,
		StandardAction:  standard,
		AlternateAction: alternate,
	}, &sub)
	return f.Run(ctx)
}

func runIngester(ctx context.Context, store *catalog.Store, cfg config.Config, log *zerolog.Logger) error {
	sub := log.With().Str("component", "ingester").Logger()

	include, err := discovery.CompileExcludes(cfg.Ingester.IncludeList)
	if err != nil {
		return fmt.Errorf("ingester: invalid include pattern: %w", err)
	}
	exclude, err := discovery.CompileExcludes(cfg.Ingester.ExcludeList)
	if err != nil {
		return fmt.Errorf("ingester: invalid exclude pattern: %w", err)
	}

	factory := pluginFactoryFor(cfg.Ingester.PluginName)

	in, err := ingester.New(store, factory, ingester.Config{
		StorageDir:  cfg.Ingester.Storage,
		FileStatus:  catalog.Status(cfg.Ingester.FileStatus),
		BatchSize:   cfg.Ingester.BatchSize,
		NumWorkers:  cfg.Ingester.NumThreads,
		Pause:       time.Duration(cfg.Ingester.PauseSeconds) * time.Second,
		Daemon:      cfg.Ingester.Daemon,
		IncludeList: include,
		ExcludeList: exclude,
	}, &sub)
	if err != nil {
		return fmt.Errorf("ingester: %w", err)
	}
	return in.Run(ctx)
}

// strategyFor builds a finder.Strategy from the configured search method,
// mirroring the two discovery modes named in spec.md §4.3.
func strategyFor(fc config.FinderConfig, exclude []*regexp.Regexp, log *zerolog.Logger) (finder.Strategy, error) {
	switch fc.SearchMethod {
	case "", "scan":
		return func() iter.Seq[string] { return discovery.Scan(fc.Source, exclude) }, nil
	case "parse_rsync_logs":
		opts := discovery.ManifestOptions{
			Exclude:    exclude,
			PastDays:   fc.SearchPastDays,
			FutureDays: fc.SearchFutureDays,
			Delay:      time.Duration(fc.SearchDelaySeconds) * time.Second,
			Log:        log,
		}
		return func() iter.Seq[string] { return discovery.ParseManifests(fc.Source, opts) }, nil
	default:
		return nil, fmt.Errorf("finder: unknown search method %q", fc.SearchMethod)
	}
}

// actionFor constructs the action.Action named by name. "move" relocates
// files from the finder's source directory into its storage directory;
// "delete" and "noop" need no further configuration.
func actionFor(name, source, storage string) (action.Action, error) {
	switch strings.ToLower(name) {
	case "move":
		return action.NewMove(source, storage)
	case "delete":
		return action.NewDelete(), nil
	case "noop", "":
		return action.NewNoop(), nil
	default:
		return nil, fmt.Errorf("unknown action %q", name)
	}
}

// pluginFactoryFor resolves the configured plugin name to a plugin.Factory.
// Only the null plugin can be selected by name (config validation rejects
// any other name); plugin.Raw and plugin.Pipeline need an ingest function,
// which deployments wire in by replacing this switch.
func pluginFactoryFor(name string) plugin.Factory {
	switch strings.ToLower(name) {
	default:
		return func() (plugin.Plugin, error) { return plugin.NewNull(), nil }
	}
}

func ghostNames(files []catalog.File) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	return names
}
