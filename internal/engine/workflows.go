package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/task"
)

// CreateWorkflow starts a workflow run with the given ordered step names.
// The first step begins running immediately.
func (e *Engine) CreateWorkflow(ctx context.Context, name string, stepNames []string) (*task.Workflow, error) {
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}
	if len(stepNames) == 0 {
		return nil, fmt.Errorf("workflow %q needs at least one step", name)
	}

	steps := make([]task.Step, len(stepNames))
	for i, n := range stepNames {
		steps[i] = task.Step{Name: n, Status: task.StepPending}
	}
	steps[0].Status = task.StepRunning

	w := &task.Workflow{
		ID:          e.ids.Generate(kindWorkflow),
		Name:        name,
		Status:      task.WorkflowActive,
		CurrentStep: steps[0].Name,
		Steps:       steps,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.cache.UpsertWorkflow(ctx, w); err != nil {
		return nil, err
	}
	e.sync.MarkDirty()
	return w, nil
}

// CreateWorkflowFromDefinition loads a YAML definition and starts a run of
// it.
func (e *Engine) CreateWorkflowFromDefinition(ctx context.Context, path string) (*task.Workflow, error) {
	def, err := task.LoadWorkflowDefinition(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(def.Steps))
	for i, s := range def.Steps {
		names[i] = s.Name
	}
	return e.CreateWorkflow(ctx, def.Name, names)
}

// AdvanceStep completes the running step and starts the next one. Advancing
// past the last step completes the workflow.
func (e *Engine) AdvanceStep(ctx context.Context, id string) (*task.Workflow, error) {
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}
	w, err := e.cache.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != task.WorkflowActive {
		return nil, fmt.Errorf("%w: workflow %s is %s", task.ErrInvalidTransition, id, w.Status)
	}

	current := -1
	for i := range w.Steps {
		if w.Steps[i].Name == w.CurrentStep {
			current = i
			break
		}
	}
	if current < 0 {
		return nil, fmt.Errorf("%w: workflow %s has no step %q", task.ErrCorruptRecord, id, w.CurrentStep)
	}

	w.Steps[current].Status = task.StepCompleted
	if current+1 < len(w.Steps) {
		w.Steps[current+1].Status = task.StepRunning
		w.CurrentStep = w.Steps[current+1].Name
	} else {
		now := time.Now().UTC()
		w.Status = task.WorkflowCompleted
		w.CompletedAt = &now
		w.CurrentStep = ""
	}

	if err := e.cache.UpsertWorkflow(ctx, w); err != nil {
		return nil, err
	}
	e.sync.MarkDirty()
	return w, nil
}

// CancelWorkflow terminally abandons a workflow run.
func (e *Engine) CancelWorkflow(ctx context.Context, id string) error {
	if err := e.refresh(ctx); err != nil {
		return err
	}
	w, err := e.cache.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if w.Status != task.WorkflowActive {
		return fmt.Errorf("%w: workflow %s is %s", task.ErrInvalidTransition, id, w.Status)
	}
	w.Status = task.WorkflowCancelled
	if err := e.cache.UpsertWorkflow(ctx, w); err != nil {
		return err
	}
	e.sync.MarkDirty()
	return nil
}

// GetWorkflow returns one workflow run by id.
func (e *Engine) GetWorkflow(ctx context.Context, id string) (*task.Workflow, error) {
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}
	return e.cache.GetWorkflow(ctx, id)
}

// ListWorkflows returns every workflow run.
func (e *Engine) ListWorkflows(ctx context.Context) ([]*task.Workflow, error) {
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}
	return e.cache.ListWorkflows(ctx)
}
