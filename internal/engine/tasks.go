package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/loomworks/loom/internal/cache"
	"github.com/loomworks/loom/internal/ident"
	"github.com/loomworks/loom/internal/task"
)

// CreateParams carries the caller-supplied fields of a new task. ID is
// normally left empty and assigned by the engine; importers and tests may
// supply one explicitly.
type CreateParams struct {
	ID          string
	Title       string
	Description string
	Blockers    []string
	Metadata    map[string]any
}

// CreateTask creates a task, blocked on its blockers or ready immediately.
func (e *Engine) CreateTask(ctx context.Context, p CreateParams) (*task.Task, error) {
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}

	id := p.ID
	if id == "" {
		id = e.ids.Generate(kindTask)
	} else {
		e.ids.Register(kindTask, id)
	}

	t := &task.Task{
		ID:          id,
		Title:       p.Title,
		Description: p.Description,
		Blockers:    p.Blockers,
		Metadata:    p.Metadata,
	}
	if err := e.sched.Create(ctx, t); err != nil {
		return nil, err
	}
	e.sync.MarkDirty()
	return t, nil
}

// CreateSubtask creates a task whose id nests under the parent's, e.g.
// "task-a1b2c3.2" for the second child. The child does not implicitly block
// on or get blocked by its parent.
func (e *Engine) CreateSubtask(ctx context.Context, parentID string, p CreateParams) (*task.Task, error) {
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}
	if _, err := e.cache.GetTask(ctx, parentID); err != nil {
		return nil, fmt.Errorf("parent %s: %w", parentID, err)
	}

	index, err := e.nextChildIndex(ctx, parentID)
	if err != nil {
		return nil, err
	}
	p.ID = ident.ChildID(parentID, index)
	return e.CreateTask(ctx, p)
}

// nextChildIndex returns one past the highest child index already in use
// under the parent, so ids stay monotonic even after cancellations.
func (e *Engine) nextChildIndex(ctx context.Context, parentID string) (int, error) {
	all, err := e.cache.ListTasks(ctx, cache.Filter{})
	if err != nil {
		return 0, err
	}
	prefix := parentID + "."
	highest := 0
	for _, t := range all {
		if !strings.HasPrefix(t.ID, prefix) {
			continue
		}
		rest := t.ID[len(prefix):]
		// Only direct children count; grandchildren keep their own counters.
		if dot := strings.IndexByte(rest, '.'); dot >= 0 {
			rest = rest[:dot]
		}
		if n, err := strconv.Atoi(rest); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// Claim atomically assigns a ready task to a worker.
func (e *Engine) Claim(ctx context.Context, id, worker string) (*task.Task, error) {
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}
	t, err := e.sched.Claim(ctx, id, worker)
	if err != nil {
		return nil, err
	}
	e.sync.MarkDirty()
	return t, nil
}

// Start marks a claimed task as actively being worked on.
func (e *Engine) Start(ctx context.Context, id string) error {
	if err := e.refresh(ctx); err != nil {
		return err
	}
	if err := e.sched.Start(ctx, id); err != nil {
		return err
	}
	e.sync.MarkDirty()
	return nil
}

// Complete finishes a task and returns the ids of dependents that became
// ready.
func (e *Engine) Complete(ctx context.Context, id string) ([]string, error) {
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}
	unblocked, err := e.sched.Complete(ctx, id)
	if err != nil {
		return nil, err
	}
	e.sync.MarkDirty()
	return unblocked, nil
}

// Release returns a claimed or in-progress task to the ready pool.
func (e *Engine) Release(ctx context.Context, id string) error {
	if err := e.refresh(ctx); err != nil {
		return err
	}
	if err := e.sched.Release(ctx, id); err != nil {
		return err
	}
	e.sync.MarkDirty()
	return nil
}

// Cancel terminally abandons a task. Dependents stay blocked.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	if err := e.refresh(ctx); err != nil {
		return err
	}
	if err := e.sched.Cancel(ctx, id); err != nil {
		return err
	}
	e.sync.MarkDirty()
	return nil
}

// GetTask returns one task by id.
func (e *Engine) GetTask(ctx context.Context, id string) (*task.Task, error) {
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}
	return e.cache.GetTask(ctx, id)
}

// ListTasks returns tasks matching the filter, ordered by creation time.
func (e *Engine) ListTasks(ctx context.Context, f cache.Filter) ([]*task.Task, error) {
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}
	return e.cache.ListTasks(ctx, f)
}

// ReadyTasks returns every task a worker could claim right now.
func (e *Engine) ReadyTasks(ctx context.Context) ([]*task.Task, error) {
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}
	return e.sched.ReadyTasks(ctx)
}
