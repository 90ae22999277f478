package task

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusBlocked, StatusReady, StatusClaimed,
		StatusInProgress, StatusCompleted, StatusCancelled} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("pending").Valid() {
		t.Error("unknown status must not validate")
	}
}

func TestStatusTerminal(t *testing.T) {
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Error("completed and cancelled are terminal")
	}
	if StatusClaimed.Terminal() || StatusReady.Terminal() {
		t.Error("active statuses are not terminal")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	claimed := time.Now().UTC()
	orig := &Task{
		ID:        "task-a1b2c3",
		Title:     "Original",
		Status:    StatusClaimed,
		ClaimedAt: &claimed,
		Blockers:  []string{"task-x"},
		Metadata:  map[string]any{"key": "value"},
		CreatedAt: claimed.Add(-time.Hour),
	}

	cp := orig.Clone()
	cp.Blockers[0] = "task-y"
	cp.Metadata["key"] = "changed"
	*cp.ClaimedAt = claimed.Add(time.Hour)

	if orig.Blockers[0] != "task-x" {
		t.Error("clone shares the blockers slice")
	}
	if orig.Metadata["key"] != "value" {
		t.Error("clone shares the metadata map")
	}
	if !orig.ClaimedAt.Equal(claimed) {
		t.Error("clone shares the claim timestamp")
	}
}

func TestLastWrite(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	claimed := created.Add(time.Hour)
	completed := created.Add(2 * time.Hour)

	tk := &Task{CreatedAt: created}
	if !tk.LastWrite().Equal(created) {
		t.Error("unclaimed task writes at creation")
	}

	tk.ClaimedAt = &claimed
	if !tk.LastWrite().Equal(claimed) {
		t.Error("claim must advance the last write")
	}

	tk.CompletedAt = &completed
	if !tk.LastWrite().Equal(completed) {
		t.Error("completion must advance the last write")
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	if err := Validate(&Task{Title: "No id", Status: StatusReady}); err == nil {
		t.Error("a task without an id must not validate")
	}
	if err := Validate(&Task{ID: "task-a", Status: StatusReady}); err == nil {
		t.Error("a task without a title must not validate")
	}
	if err := Validate(&Task{ID: "task-a", Title: "Fine", Status: StatusReady}); err != nil {
		t.Errorf("valid task rejected: %v", err)
	}
}

func TestLoadWorkflowDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.yaml")
	content := "name: release\nsteps:\n  - name: plan\n  - name: ship\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	def, err := LoadWorkflowDefinition(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if def.Name != "release" || len(def.Steps) != 2 || def.Steps[1].Name != "ship" {
		t.Errorf("definition parsed wrong: %+v", def)
	}
}

func TestLoadWorkflowDefinitionRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("name: hollow\nsteps: []\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := LoadWorkflowDefinition(path); err == nil {
		t.Error("a definition without steps must not load")
	}
}

func TestWorkflowLastWrite(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	done := created.Add(time.Hour)

	w := &Workflow{CreatedAt: created}
	if !w.LastWrite().Equal(created) {
		t.Error("active workflow writes at creation")
	}
	w.CompletedAt = &done
	if !w.LastWrite().Equal(done) {
		t.Error("completion must advance the last write")
	}
}
