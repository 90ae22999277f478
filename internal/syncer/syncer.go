package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/loomworks/loom/internal/cache"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/gitrepo"
	"github.com/loomworks/loom/internal/logstore"
	"github.com/loomworks/loom/internal/task"
)

// Log kinds the syncer keeps in the query cache. Worker memory streams are
// append-only files managed directly by the log store and never cached.
const (
	KindTasks     = "tasks"
	KindWorkflows = "workflows"
)

const (
	// DefaultDebounce is how long the exporter waits after the last dirty
	// mark before rewriting the log files.
	DefaultDebounce = 5 * time.Second

	// DefaultSyncTimeout bounds each remote git operation.
	DefaultSyncTimeout = 2 * time.Minute
)

// Syncer keeps the durable JSONL logs, the query cache, and the git remote
// consistent with each other. The logs are the source of truth; the cache is
// updated from them on import, and rewritten to them on export.
type Syncer struct {
	store  *logstore.Store
	cache  *cache.Store
	repo   *gitrepo.Repo
	bus    *events.Bus
	logger *slog.Logger

	debounce    time.Duration
	syncTimeout time.Duration
	autoCommit  bool
	retry       RetryConfig
	breaker     *gobreaker.CircuitBreaker

	dirty    chan struct{}
	flushReq chan chan error

	exportMu sync.Mutex
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithDebounce sets the export debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(s *Syncer) { s.debounce = d }
}

// WithSyncTimeout bounds each remote git operation.
func WithSyncTimeout(d time.Duration) Option {
	return func(s *Syncer) { s.syncTimeout = d }
}

// WithAutoCommit makes every export commit the log files to git.
func WithAutoCommit(enabled bool) Option {
	return func(s *Syncer) { s.autoCommit = enabled }
}

// WithRetryConfig overrides the remote retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *Syncer) { s.retry = cfg }
}

// New creates a syncer. The repo may be nil when the data directory is not
// under git control; Pull and Push then fail with ErrSyncFailure.
func New(store *logstore.Store, c *cache.Store, repo *gitrepo.Repo, bus *events.Bus, logger *slog.Logger, opts ...Option) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Syncer{
		store:       store,
		cache:       c,
		repo:        repo,
		bus:         bus,
		logger:      logger,
		debounce:    DefaultDebounce,
		syncTimeout: DefaultSyncTimeout,
		retry:       DefaultRetryConfig(),
		dirty:       make(chan struct{}, 1),
		flushReq:    make(chan chan error),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.breaker = newBreaker(s.logger)
	return s
}

// ImportStats reports what an import brought into the cache.
type ImportStats struct {
	TaskIDs     []string
	WorkflowIDs []string
	Skipped     int
}

// NeedsImport reports whether the log file for kind has changed since the
// cache last imported it. The mtime check avoids hashing unchanged files;
// an mtime bump with an identical checksum still counts as unchanged.
func (s *Syncer) NeedsImport(ctx context.Context, kind string) (bool, error) {
	meta, found, err := s.cache.GetSyncMeta(ctx, kind)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}

	mtime, exists, err := s.store.ModifiedTime(kind)
	if err != nil {
		return false, err
	}
	if !exists {
		return meta.Checksum != "", nil
	}
	if !mtime.After(meta.LastImportTime) {
		return false, nil
	}

	sum, err := s.store.Checksum(kind)
	if err != nil {
		return false, err
	}
	return sum != meta.Checksum, nil
}

// Import upserts the task and workflow logs into the cache. Records that do
// not parse are skipped with a warning; a skipped record never aborts the
// import. Cached entities absent from the logs are kept: entities are never
// deleted, so an unlisted id is a local write that has not been exported yet.
// Returns the ids seen so callers can register them with the id generator.
func (s *Syncer) Import(ctx context.Context) (ImportStats, error) {
	var stats ImportStats

	taskRecords, skipped, err := s.store.ReadAll(KindTasks)
	if err != nil {
		return stats, err
	}
	stats.Skipped += skipped

	for _, rec := range taskRecords {
		var t task.Task
		if err := json.Unmarshal(rec, &t); err != nil || t.ID == "" {
			s.logger.Warn("skipping unreadable task record",
				"error", fmt.Errorf("%w: %v", task.ErrCorruptRecord, err))
			stats.Skipped++
			continue
		}
		if err := s.cache.UpsertTask(ctx, &t); err != nil {
			return stats, err
		}
		stats.TaskIDs = append(stats.TaskIDs, t.ID)
	}
	if err := s.recordImport(ctx, KindTasks); err != nil {
		return stats, err
	}

	wfRecords, skipped, err := s.store.ReadAll(KindWorkflows)
	if err != nil {
		return stats, err
	}
	stats.Skipped += skipped

	for _, rec := range wfRecords {
		var w task.Workflow
		if err := json.Unmarshal(rec, &w); err != nil || w.ID == "" {
			s.logger.Warn("skipping unreadable workflow record",
				"error", fmt.Errorf("%w: %v", task.ErrCorruptRecord, err))
			stats.Skipped++
			continue
		}
		if err := s.cache.UpsertWorkflow(ctx, &w); err != nil {
			return stats, err
		}
		stats.WorkflowIDs = append(stats.WorkflowIDs, w.ID)
	}
	if err := s.recordImport(ctx, KindWorkflows); err != nil {
		return stats, err
	}

	s.publish(events.New(events.TypeSyncImported, "", "",
		fmt.Sprintf("%d tasks, %d workflows", len(stats.TaskIDs), len(stats.WorkflowIDs))))
	return stats, nil
}

// EnsureFresh imports when either log has changed on disk, typically after a
// pull or an edit by another process.
func (s *Syncer) EnsureFresh(ctx context.Context) (ImportStats, error) {
	for _, kind := range []string{KindTasks, KindWorkflows} {
		stale, err := s.NeedsImport(ctx, kind)
		if err != nil {
			return ImportStats{}, err
		}
		if stale {
			return s.Import(ctx)
		}
	}
	return ImportStats{}, nil
}

func (s *Syncer) recordImport(ctx context.Context, kind string) error {
	sum, err := s.store.Checksum(kind)
	if err != nil {
		return err
	}
	mtime, exists, err := s.store.ModifiedTime(kind)
	if err != nil {
		return err
	}
	if !exists {
		mtime = time.Now().UTC()
	}
	return s.cache.PutSyncMeta(ctx, cache.SyncMeta{
		Kind:           kind,
		LastImportTime: mtime,
		Checksum:       sum,
	})
}

// MarkDirty schedules a debounced export. Safe from any goroutine; repeated
// marks within the debounce window collapse into one export.
func (s *Syncer) MarkDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// Flush exports immediately, bypassing the debounce. When Run is active the
// request is routed through it so exports never overlap; otherwise the
// export runs inline.
func (s *Syncer) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.flushReq <- reply:
		select {
		case err := <-reply:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return s.Export(ctx)
	}
}

// Run drives the debounced exporter until ctx is cancelled. A final export
// flushes pending changes on shutdown.
func (s *Syncer) Run(ctx context.Context) error {
	var timer *time.Timer
	var fire <-chan time.Time
	pending := false

	for {
		select {
		case <-s.dirty:
			pending = true
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			pending = false
			if err := s.Export(ctx); err != nil {
				s.logger.Error("debounced export failed", "error", err)
			}

		case reply := <-s.flushReq:
			if timer != nil {
				timer.Stop()
			}
			fire = nil
			pending = false
			reply <- s.Export(ctx)

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			// A dirty mark may have raced with cancellation; drain it so
			// the final export sees it.
			select {
			case <-s.dirty:
				pending = true
			default:
			}
			if pending {
				flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := s.Export(flushCtx); err != nil {
					s.logger.Error("shutdown export failed", "error", err)
				}
				cancel()
			}
			return ctx.Err()
		}
	}
}

// Export rewrites the task and workflow logs from the cache. Output is
// sorted by id so identical state always produces identical bytes, which
// keeps git diffs small and checksums stable.
func (s *Syncer) Export(ctx context.Context) error {
	s.exportMu.Lock()
	defer s.exportMu.Unlock()

	tasks, err := s.cache.ListTasks(ctx, cache.Filter{})
	if err != nil {
		return err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	taskLines := make([][]byte, 0, len(tasks))
	for _, t := range tasks {
		line, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("%w: marshal task %s: %v", task.ErrStorageFailure, t.ID, err)
		}
		taskLines = append(taskLines, line)
	}
	if err := s.store.WriteAll(KindTasks, taskLines); err != nil {
		return err
	}
	if err := s.recordImport(ctx, KindTasks); err != nil {
		return err
	}

	workflows, err := s.cache.ListWorkflows(ctx)
	if err != nil {
		return err
	}
	sort.Slice(workflows, func(i, j int) bool { return workflows[i].ID < workflows[j].ID })
	wfLines := make([][]byte, 0, len(workflows))
	for _, w := range workflows {
		line, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("%w: marshal workflow %s: %v", task.ErrStorageFailure, w.ID, err)
		}
		wfLines = append(wfLines, line)
	}
	if err := s.store.WriteAll(KindWorkflows, wfLines); err != nil {
		return err
	}
	if err := s.recordImport(ctx, KindWorkflows); err != nil {
		return err
	}

	if s.autoCommit && s.repo != nil {
		committed, err := s.repo.CommitAll(ctx, exportCommitMessage(len(tasks), len(workflows)))
		if err != nil {
			s.logger.Warn("auto-commit failed", "error", err)
		} else if committed {
			s.logger.Debug("auto-committed state", "tasks", len(tasks), "workflows", len(workflows))
		}
	}

	s.publish(events.New(events.TypeSyncExported, "", "",
		fmt.Sprintf("%d tasks, %d workflows", len(tasks), len(workflows))))
	return nil
}

func exportCommitMessage(tasks, workflows int) string {
	return fmt.Sprintf("loom: update state (%d tasks, %d workflows)", tasks, workflows)
}

// Pull flushes local changes, fetches the remote state, resolves any
// conflicts record by record, and re-imports. Remote failures retry with
// backoff behind a circuit breaker; a merge conflict is resolved, not
// retried.
func (s *Syncer) Pull(ctx context.Context) (ImportStats, error) {
	if s.repo == nil {
		return ImportStats{}, fmt.Errorf("%w: no git repository configured", task.ErrSyncFailure)
	}

	if err := s.Flush(ctx); err != nil {
		return ImportStats{}, err
	}
	if s.repo.HasRemote(ctx) {
		if _, err := s.repo.CommitAll(ctx, "loom: local state before pull"); err != nil {
			return ImportStats{}, fmt.Errorf("%w: commit before pull: %v", task.ErrSyncFailure, err)
		}

		pullCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
		defer cancel()
		err := runWithRetry(pullCtx, s.breaker, s.retry, func() error {
			return s.repo.Pull(pullCtx)
		}, gitrepo.ErrMergeConflict)
		if err != nil {
			if !errors.Is(err, gitrepo.ErrMergeConflict) {
				return ImportStats{}, fmt.Errorf("%w: pull: %v", task.ErrSyncFailure, err)
			}
			if err := s.resolveConflicts(ctx); err != nil {
				return ImportStats{}, err
			}
		}
	}

	stats, err := s.Import(ctx)
	if err != nil {
		return stats, err
	}
	s.publish(events.New(events.TypeSyncPulled, "", "", ""))
	return stats, nil
}

// Push flushes and commits local state, then pushes to the remote.
func (s *Syncer) Push(ctx context.Context) error {
	if s.repo == nil {
		return fmt.Errorf("%w: no git repository configured", task.ErrSyncFailure)
	}

	if err := s.Flush(ctx); err != nil {
		return err
	}
	if _, err := s.repo.CommitAll(ctx, "loom: local state before push"); err != nil {
		return fmt.Errorf("%w: commit before push: %v", task.ErrSyncFailure, err)
	}

	pushCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()
	if err := runWithRetry(pushCtx, s.breaker, s.retry, func() error {
		return s.repo.Push(pushCtx)
	}); err != nil {
		return fmt.Errorf("%w: push: %v", task.ErrSyncFailure, err)
	}

	s.publish(events.New(events.TypeSyncPushed, "", "", ""))
	return nil
}

func (s *Syncer) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(events.TopicSync, e)
	}
}
