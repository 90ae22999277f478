// Package task defines the entities tracked by the engine: tasks, workflows,
// and the error taxonomy shared by the scheduler, cache, and sync layers.
package task

import (
	"time"
)

// Status represents the current state of a task.
type Status string

const (
	StatusBlocked    Status = "blocked"     // Waiting for one or more blockers to complete
	StatusReady      Status = "ready"       // Eligible to be claimed
	StatusClaimed    Status = "claimed"     // Claimed by a worker, not yet started
	StatusInProgress Status = "in_progress" // Worker reported it started work
	StatusCompleted  Status = "completed"   // Finished successfully (terminal)
	StatusCancelled  Status = "cancelled"   // Abandoned without completion (terminal)
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusBlocked, StatusReady, StatusClaimed, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Task is a unit of work. Tasks are created by any writer, mutated only
// through the scheduler's state machine, and never deleted: cancellation is a
// terminal status, not removal.
type Task struct {
	ID          string         `json:"id" validate:"required"`
	Title       string         `json:"title" validate:"required,min=1,max=500"`
	Description string         `json:"description,omitempty"`
	Status      Status         `json:"status" validate:"required"`
	AssignedTo  string         `json:"assigned_to,omitempty"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
	Blockers    []string       `json:"blockers,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Blockers != nil {
		cp.Blockers = append([]string(nil), t.Blockers...)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	if t.ClaimedAt != nil {
		ts := *t.ClaimedAt
		cp.ClaimedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}

// LastWrite returns the most recent of the task's lifecycle timestamps.
// Used by the sync layer's last-writer-wins conflict policy: given two
// concurrently modified copies of a task, the one with the later LastWrite
// is kept.
func (t *Task) LastWrite() time.Time {
	latest := t.CreatedAt
	if t.ClaimedAt != nil && t.ClaimedAt.After(latest) {
		latest = *t.ClaimedAt
	}
	if t.CompletedAt != nil && t.CompletedAt.After(latest) {
		latest = *t.CompletedAt
	}
	return latest
}
