package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loomworks/loom/internal/task"
)

func TestWorkflowRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	w := &task.Workflow{
		ID:          "wf-112233",
		Name:        "release",
		Status:      task.WorkflowActive,
		CurrentStep: "build",
		Steps: []task.Step{
			{Name: "build", Status: task.StepRunning},
			{Name: "review", Status: task.StepPending},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.UpsertWorkflow(ctx, w); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := s.GetWorkflow(ctx, "wf-112233")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "release" || got.CurrentStep != "build" || len(got.Steps) != 2 {
		t.Errorf("workflow mismatch: %+v", got)
	}
	if got.Steps[0].Status != task.StepRunning || got.Steps[1].Name != "review" {
		t.Errorf("steps mismatch: %v", got.Steps)
	}

	_, err = s.GetWorkflow(ctx, "wf-missing")
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, err := s.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 workflow, got %d", len(list))
	}
}
