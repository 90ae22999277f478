// Package scheduler is the behavioral core of the engine: it owns the task
// state machine, computes readiness, and cascades unblocking on completion.
// It operates entirely against the query cache, never the durable log.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/toposort"

	"github.com/loomworks/loom/internal/cache"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/task"
)

// DefaultClaimTimeout is how old a claim must be before the sweep treats the
// worker as stalled and releases the task.
const DefaultClaimTimeout = time.Hour

// Scheduler performs atomic claim/release/complete transitions against the
// cache and keeps task readiness eagerly maintained, so ready_tasks is a
// plain indexed filter rather than a graph traversal.
type Scheduler struct {
	cache        *cache.Store
	bus          *events.Bus
	logger       *slog.Logger
	clock        func() time.Time
	claimTimeout time.Duration

	// Guards the sweep: claim-timeout release must not run concurrently
	// with itself.
	sweepMu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClaimTimeout overrides the claim timeout used by the sweep.
func WithClaimTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.claimTimeout = d
		}
	}
}

// WithClock overrides the time source (for tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// New creates a Scheduler over the given cache.
func New(c *cache.Store, bus *events.Bus, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cache:        c,
		bus:          bus,
		logger:       logger,
		clock:        func() time.Time { return time.Now().UTC() },
		claimTimeout: DefaultClaimTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and inserts a new task. The task arrives with its id
// already assigned. Unknown blocker ids are rejected with ErrUnknownBlocker;
// a blocker graph that would contain a cycle (including a task blocking on
// itself) is rejected with ErrCyclicDependency. Neither leaves any partial
// effect. The initial status is blocked unless every blocker is already
// completed; readiness is maintained eagerly from then on by the completion
// cascade.
func (s *Scheduler) Create(ctx context.Context, t *task.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock()
	}

	allCompleted := true
	for _, blockerID := range t.Blockers {
		if blockerID == t.ID {
			return fmt.Errorf("task %s blocks on itself: %w", t.ID, task.ErrCyclicDependency)
		}
		blocker, err := s.cache.GetTask(ctx, blockerID)
		if err != nil {
			return fmt.Errorf("blocker %s: %w", blockerID, task.ErrUnknownBlocker)
		}
		if blocker.Status != task.StatusCompleted {
			allCompleted = false
		}
	}

	if len(t.Blockers) == 0 || allCompleted {
		t.Status = task.StatusReady
	} else {
		t.Status = task.StatusBlocked
	}

	if err := task.Validate(t); err != nil {
		return err
	}

	if err := s.validateAcyclic(ctx, t); err != nil {
		return err
	}

	if err := s.cache.InsertTask(ctx, t); err != nil {
		return err
	}

	s.bus.Publish(events.TopicTask, events.New(events.TypeTaskCreated, t.ID, "", ""))
	return nil
}

// validateAcyclic runs a topological sort over the existing blocker graph
// plus the new task's edges. Existing graphs are acyclic by construction,
// but imports can merge arbitrary histories, so the check is real work, not
// a formality.
func (s *Scheduler) validateAcyclic(ctx context.Context, t *task.Task) error {
	existing, err := s.cache.BlockerEdges(ctx)
	if err != nil {
		return err
	}

	var edges []toposort.Edge
	for taskID, blockers := range existing {
		for _, blockerID := range blockers {
			edges = append(edges, toposort.Edge{blockerID, taskID})
		}
	}
	for _, blockerID := range t.Blockers {
		edges = append(edges, toposort.Edge{blockerID, t.ID})
	}
	if len(edges) == 0 {
		return nil
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("task %s: %w", t.ID, task.ErrCyclicDependency)
	}
	return nil
}

// Claim atomically assigns a ready task to a worker. Exactly one of any
// number of concurrent callers succeeds; the rest get ErrAlreadyClaimed.
func (s *Scheduler) Claim(ctx context.Context, id, worker string) (*task.Task, error) {
	if err := s.cache.Claim(ctx, id, worker, s.clock()); err != nil {
		return nil, err
	}
	s.bus.Publish(events.TopicTask, events.New(events.TypeTaskClaimed, id, worker, ""))
	return s.cache.GetTask(ctx, id)
}

// Start marks a claimed task as in progress. Informational only.
func (s *Scheduler) Start(ctx context.Context, id string) error {
	if err := s.cache.Start(ctx, id); err != nil {
		return err
	}
	s.bus.Publish(events.TopicTask, events.New(events.TypeTaskStarted, id, "", ""))
	return nil
}

// Complete finishes a claimed or in-progress task and promotes every blocked
// dependent whose blockers are now all completed. Returns the ids of newly
// ready tasks.
func (s *Scheduler) Complete(ctx context.Context, id string) ([]string, error) {
	unblocked, err := s.cache.Complete(ctx, id, s.clock())
	if err != nil {
		return nil, err
	}

	s.bus.Publish(events.TopicTask, events.New(events.TypeTaskCompleted, id, "", ""))
	for _, depID := range unblocked {
		s.bus.Publish(events.TopicTask, events.New(events.TypeTaskUnblocked, depID, "", ""))
	}
	return unblocked, nil
}

// Release returns a claimed or in-progress task to the ready pool.
func (s *Scheduler) Release(ctx context.Context, id string) error {
	if err := s.cache.Release(ctx, id); err != nil {
		return err
	}
	s.bus.Publish(events.TopicTask, events.New(events.TypeTaskReleased, id, "", ""))
	return nil
}

// Cancel terminally abandons a non-terminal task. Dependents stay blocked:
// cancellation is not completion, and callers wanting skip semantics should
// re-wire blockers explicitly.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	if err := s.cache.Cancel(ctx, id); err != nil {
		return err
	}
	s.bus.Publish(events.TopicTask, events.New(events.TypeTaskCancelled, id, "", ""))
	return nil
}

// ReadyTasks returns every task eligible to be claimed right now.
func (s *Scheduler) ReadyTasks(ctx context.Context) ([]*task.Task, error) {
	return s.cache.ReadyTasks(ctx)
}

// Sweep releases every claim older than the claim timeout. Safe to call
// from a ticker: overlapping invocations coalesce, only one sweep runs at
// a time.
func (s *Scheduler) Sweep(ctx context.Context) ([]string, error) {
	if !s.sweepMu.TryLock() {
		return nil, nil
	}
	defer s.sweepMu.Unlock()

	cutoff := s.clock().Add(-s.claimTimeout)
	released, err := s.cache.ReleaseExpired(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, id := range released {
		s.logger.Warn("released stalled claim", "task", id, "timeout", s.claimTimeout)
		s.bus.Publish(events.TopicTask, events.New(events.TypeTaskReleased, id, "", "claim timeout"))
	}
	return released, nil
}
