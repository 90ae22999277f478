// Package engine wires the durable log store, the query cache, the
// scheduler, and the sync machinery into one façade. Every public operation
// re-imports the logs first when they changed on disk, so concurrent
// processes sharing a data directory always see each other's writes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loomworks/loom/internal/cache"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/gitrepo"
	"github.com/loomworks/loom/internal/ident"
	"github.com/loomworks/loom/internal/logstore"
	"github.com/loomworks/loom/internal/scheduler"
	"github.com/loomworks/loom/internal/syncer"
	"github.com/loomworks/loom/internal/task"
)

const (
	kindTask     = "task"
	kindWorkflow = "wf"
)

// Engine is the single entry point for embedders and the CLI.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	store *logstore.Store
	cache *cache.Store
	repo  *gitrepo.Repo
	bus   *events.Bus
	sched *scheduler.Scheduler
	sync  *syncer.Syncer
	ids   *ident.Generator

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New opens the data directory and builds the engine. The directory is
// created and turned into a git repository when needed; if git is
// unavailable the engine still works locally and only Pull and Push fail.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", task.ErrStorageFailure, err)
	}

	store, err := logstore.New(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}
	c, err := cache.Open(ctx, cfg.CachePath)
	if err != nil {
		return nil, err
	}

	repo := gitrepo.New(cfg.DataDir, cfg.Remote, cfg.Branch)
	if !repo.IsRepository(ctx) {
		if err := repo.Init(ctx); err != nil {
			logger.Warn("git unavailable, running without version control", "error", err)
			repo = nil
		}
	}

	bus := events.NewBus()
	e := &Engine{
		cfg:    cfg,
		logger: logger,
		store:  store,
		cache:  c,
		repo:   repo,
		bus:    bus,
		ids:    ident.New(),
		sched: scheduler.New(c, bus, logger,
			scheduler.WithClaimTimeout(cfg.ClaimTimeout.Std())),
		sync: syncer.New(store, c, repo, bus, logger,
			syncer.WithDebounce(cfg.Debounce.Std()),
			syncer.WithSyncTimeout(cfg.SyncTimeout.Std()),
			syncer.WithAutoCommit(cfg.AutoCommit)),
	}

	// Hydrate the cache and the id generator from whatever logs exist.
	stats, err := e.sync.Import(ctx)
	if err != nil {
		return nil, err
	}
	e.registerImported(stats)

	return e, nil
}

// Run launches the background loops: the debounced exporter, the claim
// sweeper, and the log file watcher.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	e.group = g

	g.Go(func() error { return e.sync.Run(ctx) })
	g.Go(func() error { return e.runSweeper(ctx) })
	g.Go(func() error { return e.sync.Watch(ctx) })
}

// Sweep releases every claim older than the claim timeout and schedules an
// export when anything changed, so a released task reaches the logs without
// waiting for the next explicit mutation.
func (e *Engine) Sweep(ctx context.Context) ([]string, error) {
	released, err := e.sched.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	if len(released) > 0 {
		e.sync.MarkDirty()
	}
	return released, nil
}

// runSweeper runs the claim-timeout sweep on a ticker until the context is
// cancelled. Interval defaults to a quarter of the claim timeout.
func (e *Engine) runSweeper(ctx context.Context) error {
	interval := e.cfg.SweepInterval.Std()
	if interval <= 0 {
		interval = e.cfg.ClaimTimeout.Std() / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil {
				e.logger.Error("claim sweep failed", "error", err)
			}
		}
	}
}

// Close stops the background loops, flushes pending changes, and releases
// the cache.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
		if err := e.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("background loop exited with error", "error", err)
		}
	} else {
		// No run loop to flush on shutdown; export directly.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.sync.Flush(ctx); err != nil {
			e.logger.Warn("final export failed", "error", err)
		}
	}
	e.bus.Close()
	return e.cache.Close()
}

// Events exposes the lifecycle bus for embedders.
func (e *Engine) Events() *events.Bus {
	return e.bus
}

// refresh re-imports the logs when another process changed them.
func (e *Engine) refresh(ctx context.Context) error {
	stats, err := e.sync.EnsureFresh(ctx)
	if err != nil {
		return err
	}
	e.registerImported(stats)
	return nil
}

func (e *Engine) registerImported(stats syncer.ImportStats) {
	for _, id := range stats.TaskIDs {
		e.ids.Register(kindTask, id)
	}
	for _, id := range stats.WorkflowIDs {
		e.ids.Register(kindWorkflow, id)
	}
	if stats.Skipped > 0 {
		e.logger.Warn("import skipped unreadable records", "count", stats.Skipped)
	}
}
