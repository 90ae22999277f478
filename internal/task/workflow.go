package task

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkflowStatus represents the current state of a workflow run.
type WorkflowStatus string

const (
	WorkflowActive    WorkflowStatus = "active"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// StepStatus represents the state of a single workflow step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
)

// Step is one named stage of a workflow run.
type Step struct {
	Name   string     `json:"name" yaml:"name" validate:"required"`
	Status StepStatus `json:"status" yaml:"-"`
}

// Workflow is a named run of an ordered step pipeline. It shares the task
// persistence mechanics: one JSONL log file, mirrored into the cache.
type Workflow struct {
	ID          string     `json:"id" validate:"required"`
	Name        string     `json:"name" validate:"required,min=1,max=255"`
	Status      WorkflowStatus `json:"status"`
	CurrentStep string     `json:"current_step,omitempty"`
	Steps       []Step     `json:"steps"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	cp := *w
	cp.Steps = append([]Step(nil), w.Steps...)
	if w.CompletedAt != nil {
		ts := *w.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}

// LastWrite returns the most recent lifecycle timestamp, for the
// last-writer-wins merge policy.
func (w *Workflow) LastWrite() time.Time {
	if w.CompletedAt != nil && w.CompletedAt.After(w.CreatedAt) {
		return *w.CompletedAt
	}
	return w.CreatedAt
}

// WorkflowDefinition is the declarative shape of a workflow pipeline as
// loaded from a YAML file: a name and an ordered list of step names.
type WorkflowDefinition struct {
	Name  string `yaml:"name" validate:"required"`
	Steps []Step `yaml:"steps" validate:"required,min=1,dive"`
}

// LoadWorkflowDefinition parses a workflow definition from a YAML file.
func LoadWorkflowDefinition(path string) (*WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow definition %s: %w", path, err)
	}
	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing workflow definition %s: %w", path, err)
	}
	if err := Validate(&def); err != nil {
		return nil, fmt.Errorf("invalid workflow definition %s: %w", path, err)
	}
	return &def, nil
}
