// Package ingester implements the Ingester coordinator described in
// spec.md §4.5: a periodic loop that selects cataloged files by latest
// status, dispatches them through a bounded worker pool to an external
// ingest plugin, and records one event per outcome.
package ingester

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/obs-archive/endpointd/internal/catalog"
	"github.com/obs-archive/endpointd/internal/logger"
	"github.com/obs-archive/endpointd/internal/plugin"
)

// Request is what the coordinator hands a worker: the minimum needed to
// attempt one ingest. Plain value type, no inheritance, per spec.md §9.
type Request struct {
	FilesID  int64
	FilePath string
}

// Reply is what a worker hands back: the outcome of one ingest attempt.
type Reply struct {
	FilesID  int64
	Status   catalog.Status
	Started  time.Time
	Duration time.Duration
	Version  string
	Message  string
}

// Config holds the Ingester's scheduling and selection knobs (spec.md §6).
type Config struct {
	StorageDir  string
	FileStatus  catalog.Status
	BatchSize   int
	NumWorkers  int
	Pause       time.Duration
	Daemon      bool
	IncludeList []*regexp.Regexp
	ExcludeList []*regexp.Regexp
}

func (c Config) validate() error {
	if c.FileStatus == catalog.StatusSuccess {
		return fmt.Errorf("ingester: file_status cannot be %s", catalog.StatusSuccess)
	}
	if c.BatchSize <= 0 {
		return errors.New("ingester: batch_size must be positive")
	}
	if c.NumWorkers <= 0 {
		return errors.New("ingester: num_threads must be positive")
	}
	if c.Pause <= 0 {
		c.Pause = time.Second
	}
	return nil
}

// Ingester runs the fetch/grab/pre-screen/dispatch/reap/commit cycle.
type Ingester struct {
	store   *catalog.Store
	factory plugin.Factory
	cfg     Config
	log     *zerolog.Logger
}

func New(store *catalog.Store, factory plugin.Factory, cfg Config, log *zerolog.Logger) (*Ingester, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Pause <= 0 {
		cfg.Pause = time.Second
	}
	if log == nil {
		log = logger.L()
	}
	return &Ingester{store: store, factory: factory, cfg: cfg, log: log}, nil
}

// Run executes batches until ctx is cancelled (daemon mode) or until a
// batch finds nothing to do (one-shot mode).
func (in *Ingester) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := in.runBatch(ctx)
		if err != nil {
			in.log.Error().Err(err).Msg("batch failed")
		}
		if n == 0 {
			if !in.cfg.Daemon {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(in.cfg.Pause):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(in.cfg.Pause):
		}
	}
}

// runBatch executes exactly one iteration of the cycle and returns how
// many files it selected.
func (in *Ingester) runBatch(ctx context.Context) (int, error) {
	batchID := uuid.New().String()
	log := in.log.With().Str("batch", batchID).Logger()

	if in.cfg.FileStatus == catalog.StatusUntried {
		if err := in.fetchNew(ctx); err != nil {
			log.Error().Err(err).Msg("fetch-new failed, continuing with existing backlog")
		}
	}

	files, err := in.grabBatch(ctx)
	if err != nil {
		return 0, fmt.Errorf("grab batch: %w", err)
	}
	if len(files) == 0 {
		return 0, nil
	}

	requests, synthesized := in.prescreen(files)
	replies := in.dispatch(ctx, requests)
	events := in.reap(files, replies, synthesized)

	if err := in.commitEvents(ctx, events); err != nil {
		return len(files), fmt.Errorf("commit batch: %w", err)
	}
	log.Info().Int("files", len(files)).Msg("batch committed")
	return len(files), nil
}

// fetchNew inserts an UNTRIED event for every file with zero events,
// enforcing invariant I1.
func (in *Ingester) fetchNew(ctx context.Context) error {
	tx, err := in.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	ids, err := in.store.FilesWithoutEvents(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	now := time.Now().UTC()
	for _, id := range ids {
		if err := in.store.InsertEvent(ctx, tx, catalog.NewEvent(id, catalog.StatusUntried, now)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// grabBatch selects up to BatchSize files at the configured status and
// marks them PENDING in the same transaction.
func (in *Ingester) grabBatch(ctx context.Context) ([]catalog.File, error) {
	tx, err := in.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	files, err := in.store.FilesWithLatestStatus(ctx, tx, in.cfg.FileStatus, in.cfg.BatchSize)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if len(files) == 0 {
		return nil, tx.Commit()
	}
	now := time.Now().UTC()
	for _, f := range files {
		if err := in.store.InsertEvent(ctx, tx, catalog.NewEvent(f.ID, catalog.StatusPending, now)); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return files, nil
}

// prescreen classifies each file per spec.md §4.5 step 3, splitting the
// batch into dispatchable requests and synthesized outcomes that never
// touch the plugin.
func (in *Ingester) prescreen(files []catalog.File) ([]Request, map[int64]Reply) {
	requests := make([]Request, 0, len(files))
	synthesized := make(map[int64]Reply, len(files))
	now := time.Now().UTC()

	for _, f := range files {
		path := filepath.Join(in.cfg.StorageDir, f.RelPath, f.Filename)
		if len(in.cfg.IncludeList) > 0 && !matchesAny(path, in.cfg.IncludeList) {
			synthesized[f.ID] = Reply{FilesID: f.ID, Status: catalog.StatusIgnored, Started: now,
				Message: "search criteria not met: include"}
			continue
		}
		if matchesAny(path, in.cfg.ExcludeList) {
			synthesized[f.ID] = Reply{FilesID: f.ID, Status: catalog.StatusIgnored, Started: now,
				Message: "search criteria not met: exclude"}
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			synthesized[f.ID] = Reply{FilesID: f.ID, Status: catalog.StatusInvalid, Started: now,
				Message: "no such file in the storage area"}
			continue
		}
		if info.Size() == 0 {
			synthesized[f.ID] = Reply{FilesID: f.ID, Status: catalog.StatusInvalid, Started: now,
				Message: "file has 0 bytes"}
			continue
		}
		requests = append(requests, Request{FilesID: f.ID, FilePath: path})
	}
	return requests, synthesized
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// dispatch starts min(NumWorkers, len(requests)) workers, feeds each a
// request, and collects their replies. Workers exit when the request
// channel is closed — the Go equivalent of the per-worker nil sentinel.
func (in *Ingester) dispatch(ctx context.Context, requests []Request) []Reply {
	if len(requests) == 0 {
		return nil
	}
	numWorkers := in.cfg.NumWorkers
	if numWorkers > len(requests) {
		numWorkers = len(requests)
	}

	reqCh := make(chan Request, len(requests))
	repCh := make(chan Reply, len(requests))
	for _, r := range requests {
		reqCh <- r
	}
	close(reqCh)

	done := make(chan struct{})
	for i := 0; i < numWorkers; i++ {
		go in.worker(ctx, reqCh, repCh, done)
	}
	for i := 0; i < numWorkers; i++ {
		<-done
	}
	close(repCh)

	replies := make([]Reply, 0, len(requests))
	for r := range repCh {
		replies = append(replies, r)
	}
	return replies
}

func (in *Ingester) worker(ctx context.Context, reqCh <-chan Request, repCh chan<- Reply, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	p, err := in.factory()
	if err != nil {
		in.log.Error().Err(err).Msg("cannot construct plugin instance for worker")
		for req := range reqCh {
			repCh <- Reply{FilesID: req.FilesID, Status: catalog.StatusFailure, Started: time.Now().UTC(),
				Message: rootCauseMessage(err)}
		}
		return
	}

	for req := range reqCh {
		start := time.Now().UTC()
		execErr := p.Execute(ctx, req.FilePath)
		reply := Reply{
			FilesID:  req.FilesID,
			Started:  start,
			Duration: time.Since(start),
			Version:  p.Version(),
		}
		if execErr != nil {
			reply.Status = catalog.StatusFailure
			reply.Message = rootCauseMessage(execErr)
		} else {
			reply.Status = catalog.StatusSuccess
		}
		repCh <- reply
	}
}

// rootCauseMessage walks an error's Unwrap chain to the innermost cause
// and returns its message, matching the "root cause, first line" policy
// of spec.md §4.5.
func rootCauseMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return firstLine(err.Error())
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// reap builds the final event set for the batch: worker replies, any
// pre-screen synthesized outcomes, and a synthesized UNKNOWN for any file
// that received neither (e.g. a crashed worker).
func (in *Ingester) reap(files []catalog.File, replies []Reply, synthesized map[int64]Reply) []Reply {
	byID := make(map[int64]Reply, len(files))
	for id, r := range synthesized {
		byID[id] = r
	}
	for _, r := range replies {
		byID[r.FilesID] = r
	}
	now := time.Now().UTC()
	out := make([]Reply, 0, len(files))
	for _, f := range files {
		r, ok := byID[f.ID]
		if !ok {
			r = Reply{FilesID: f.ID, Status: catalog.StatusUnknown, Started: now}
		}
		out = append(out, r)
	}
	return out
}

func (in *Ingester) commitEvents(ctx context.Context, replies []Reply) error {
	tx, err := in.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	for _, r := range replies {
		event := catalog.NewEvent(r.FilesID, r.Status, r.Started).WithDuration(r.Duration)
		if r.Version != "" {
			event = event.WithVersion(r.Version)
		}
		if r.Message != "" {
			event = event.WithMessage(r.Message)
		}
		if err := in.store.InsertEvent(ctx, tx, event); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
