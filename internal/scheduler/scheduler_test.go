package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/loomworks/loom/internal/cache"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/task"
)

// testScheduler builds a scheduler over an in-memory cache with a
// controllable clock.
func testScheduler(t *testing.T, opts ...Option) (*Scheduler, *cache.Store, *fakeClock) {
	t.Helper()
	c, err := cache.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	bus := events.NewBus()
	t.Cleanup(func() {
		bus.Close()
		c.Close()
	})

	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	return New(c, bus, nil, opts...), c, clk
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func create(t *testing.T, s *Scheduler, id string, blockers ...string) *task.Task {
	t.Helper()
	tk := &task.Task{ID: id, Title: "Task " + id, Blockers: blockers}
	if err := s.Create(context.Background(), tk); err != nil {
		t.Fatalf("failed to create %s: %v", id, err)
	}
	return tk
}

func TestCreateWithoutBlockersIsReady(t *testing.T) {
	s, _, _ := testScheduler(t)

	tk := create(t, s, "task-a1b2c3")
	if tk.Status != task.StatusReady {
		t.Errorf("expected ready, got %s", tk.Status)
	}
}

func TestCreateWithBlockersIsBlocked(t *testing.T) {
	s, _, _ := testScheduler(t)
	ctx := context.Background()

	create(t, s, "task-a")
	tk := create(t, s, "task-b", "task-a")
	if tk.Status != task.StatusBlocked {
		t.Errorf("expected blocked, got %s", tk.Status)
	}

	ready, err := s.ReadyTasks(ctx)
	if err != nil {
		t.Fatalf("ReadyTasks failed: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "task-a" {
		t.Errorf("expected only task-a ready, got %v", ready)
	}
}

func TestCreateWithCompletedBlockersIsReady(t *testing.T) {
	s, _, _ := testScheduler(t)
	ctx := context.Background()

	create(t, s, "task-a")
	if _, err := s.Claim(ctx, "task-a", "w1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := s.Complete(ctx, "task-a"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	tk := create(t, s, "task-b", "task-a")
	if tk.Status != task.StatusReady {
		t.Errorf("a task whose blockers are already completed should be ready, got %s", tk.Status)
	}
}

func TestCreateUnknownBlocker(t *testing.T) {
	s, c, _ := testScheduler(t)
	ctx := context.Background()

	err := s.Create(ctx, &task.Task{ID: "task-x", Title: "X", Blockers: []string{"task-ghost"}})
	if !errors.Is(err, task.ErrUnknownBlocker) {
		t.Fatalf("expected ErrUnknownBlocker, got %v", err)
	}

	// No partial effect.
	if _, err := c.GetTask(ctx, "task-x"); !errors.Is(err, task.ErrNotFound) {
		t.Error("rejected task must not be persisted")
	}
}

func TestCreateSelfBlockerRejected(t *testing.T) {
	s, _, _ := testScheduler(t)

	err := s.Create(context.Background(), &task.Task{ID: "task-x", Title: "X", Blockers: []string{"task-x"}})
	if !errors.Is(err, task.ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestCreateTransitiveCycleRejected(t *testing.T) {
	s, c, _ := testScheduler(t)
	ctx := context.Background()

	// A merged history can leave dangling edges: task-y blocks on task-x,
	// which does not exist yet. Creating task-x blocking on task-y would
	// close the loop.
	y := &task.Task{ID: "task-y", Title: "Y", Status: task.StatusBlocked,
		Blockers: []string{"task-x"}, CreatedAt: time.Now().UTC()}
	if err := c.UpsertTask(ctx, y); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	err := s.Create(ctx, &task.Task{ID: "task-x", Title: "X", Blockers: []string{"task-y"}})
	if !errors.Is(err, task.ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
	if _, err := c.GetTask(ctx, "task-x"); !errors.Is(err, task.ErrNotFound) {
		t.Error("rejected task must not be persisted")
	}
}

func TestClaimCompleteCascade(t *testing.T) {
	s, _, _ := testScheduler(t)
	ctx := context.Background()

	create(t, s, "task-a")
	create(t, s, "task-b", "task-a")

	claimed, err := s.Claim(ctx, "task-a", "w1")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claimed.AssignedTo != "w1" || claimed.ClaimedAt == nil {
		t.Errorf("claim fields not set: %+v", claimed)
	}

	unblocked, err := s.Complete(ctx, "task-a")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if len(unblocked) != 1 || unblocked[0] != "task-b" {
		t.Errorf("expected cascade to unblock task-b, got %v", unblocked)
	}

	// task-b became ready without any direct call referencing it.
	ready, err := s.ReadyTasks(ctx)
	if err != nil {
		t.Fatalf("ReadyTasks failed: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "task-b" || ready[0].Status != task.StatusReady {
		t.Errorf("expected task-b ready, got %v", ready)
	}
}

func TestConcurrentClaims(t *testing.T) {
	s, _, _ := testScheduler(t)
	ctx := context.Background()

	create(t, s, "task-hot")

	const callers = 8
	errs := make([]error, callers)
	var wg conc.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Go(func() {
			_, errs[i] = s.Claim(ctx, "task-hot", "w")
		})
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, task.ErrAlreadyClaimed) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
}

func TestStartThenComplete(t *testing.T) {
	s, c, _ := testScheduler(t)
	ctx := context.Background()

	create(t, s, "task-a")
	if _, err := s.Claim(ctx, "task-a", "w1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := s.Start(ctx, "task-a"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	got, _ := c.GetTask(ctx, "task-a")
	if got.Status != task.StatusInProgress {
		t.Errorf("expected in_progress, got %s", got.Status)
	}

	if _, err := s.Complete(ctx, "task-a"); err != nil {
		t.Fatalf("complete from in_progress failed: %v", err)
	}
	got, _ = c.GetTask(ctx, "task-a")
	if got.Status != task.StatusCompleted || got.CompletedAt == nil {
		t.Errorf("completed fields wrong: %+v", got)
	}
}

func TestCancelDoesNotCascade(t *testing.T) {
	s, c, _ := testScheduler(t)
	ctx := context.Background()

	create(t, s, "task-a")
	create(t, s, "task-b", "task-a")

	if err := s.Cancel(ctx, "task-a"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	b, _ := c.GetTask(ctx, "task-b")
	if b.Status != task.StatusBlocked {
		t.Errorf("dependents of a cancelled task must stay blocked, got %s", b.Status)
	}
}

func TestSweepReleasesStalledClaims(t *testing.T) {
	s, c, clk := testScheduler(t, WithClaimTimeout(time.Hour))
	ctx := context.Background()

	create(t, s, "task-a")
	if _, err := s.Claim(ctx, "task-a", "w1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Not yet expired.
	clk.Advance(30 * time.Minute)
	released, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(released) != 0 {
		t.Errorf("expected nothing released yet, got %v", released)
	}

	clk.Advance(31 * time.Minute)
	released, err = s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(released) != 1 || released[0] != "task-a" {
		t.Errorf("expected [task-a] released, got %v", released)
	}

	ready, _ := s.ReadyTasks(ctx)
	if len(ready) != 1 || ready[0].ID != "task-a" {
		t.Errorf("released task should be ready again, got %v", ready)
	}
	got, _ := c.GetTask(ctx, "task-a")
	if got.AssignedTo != "" || got.ClaimedAt != nil {
		t.Errorf("sweep should clear claim fields: %+v", got)
	}
}

func TestScenarioEndToEnd(t *testing.T) {
	s, c, _ := testScheduler(t)
	ctx := context.Background()

	create(t, s, "t-a1b2")
	ready, _ := s.ReadyTasks(ctx)
	if len(ready) != 1 || ready[0].ID != "t-a1b2" {
		t.Fatalf("expected [t-a1b2] ready, got %v", ready)
	}

	create(t, s, "t-c3d4", "t-a1b2")
	ready, _ = s.ReadyTasks(ctx)
	if len(ready) != 1 {
		t.Fatalf("t-c3d4 must not be ready yet, got %v", ready)
	}
	blocked, _ := c.GetTask(ctx, "t-c3d4")
	if blocked.Status != task.StatusBlocked {
		t.Fatalf("expected t-c3d4 blocked, got %s", blocked.Status)
	}

	if _, err := s.Claim(ctx, "t-a1b2", "w1"); err != nil {
		t.Fatalf("claim by w1 failed: %v", err)
	}
	if _, err := s.Claim(ctx, "t-a1b2", "w2"); !errors.Is(err, task.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed for w2, got %v", err)
	}

	if _, err := s.Complete(ctx, "t-a1b2"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	ready, _ = s.ReadyTasks(ctx)
	if len(ready) != 1 || ready[0].ID != "t-c3d4" || ready[0].Status != task.StatusReady {
		t.Fatalf("expected t-c3d4 ready after completion, got %v", ready)
	}
}

func TestCompletedImpliesCompletedAt(t *testing.T) {
	s, c, _ := testScheduler(t)
	ctx := context.Background()

	create(t, s, "task-a")
	create(t, s, "task-b", "task-a")
	if _, err := s.Claim(ctx, "task-a", "w1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := s.Complete(ctx, "task-a"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	all, err := c.ListTasks(ctx, cache.Filter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, tk := range all {
		completed := tk.Status == task.StatusCompleted
		hasStamp := tk.CompletedAt != nil
		if completed != hasStamp {
			t.Errorf("task %s violates completed_at invariant: status=%s completed_at=%v",
				tk.ID, tk.Status, tk.CompletedAt)
		}
		bothOrNeither := (tk.AssignedTo == "") == (tk.ClaimedAt == nil)
		if !bothOrNeither {
			t.Errorf("task %s violates claim-field invariant: %+v", tk.ID, tk)
		}
	}
}
