package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/loomworks/loom/internal/task"
)

// UpsertWorkflow inserts or replaces a workflow by id.
func (s *Store) UpsertWorkflow(ctx context.Context, w *task.Workflow) error {
	steps, err := json.Marshal(w.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, status, current_step, steps, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			current_step = excluded.current_step,
			steps = excluded.steps,
			created_at = excluded.created_at,
			completed_at = excluded.completed_at
	`, w.ID, w.Name, string(w.Status), w.CurrentStep, string(steps),
		timeToDB(w.CreatedAt), timePtrToDB(w.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert workflow %s: %w", w.ID, err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*task.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, current_step, steps, created_at, completed_at
		FROM workflows
		WHERE id = ?
	`, id)

	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow %s: %w", id, task.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}
	return w, nil
}

// ListWorkflows returns all workflows ordered by creation time.
func (s *Store) ListWorkflows(ctx context.Context) ([]*task.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, current_step, steps, created_at, completed_at
		FROM workflows
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*task.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}
	return workflows, nil
}

func scanWorkflow(row rowScanner) (*task.Workflow, error) {
	var (
		w           task.Workflow
		status      string
		steps       string
		createdAt   string
		completedAt sql.NullString
	)
	err := row.Scan(&w.ID, &w.Name, &status, &w.CurrentStep, &steps, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	w.Status = task.WorkflowStatus(status)
	if err := json.Unmarshal([]byte(steps), &w.Steps); err != nil {
		return nil, fmt.Errorf("decoding steps for %s: %w", w.ID, err)
	}
	if w.CreatedAt, err = timeFromDB(createdAt); err != nil {
		return nil, err
	}
	if w.CompletedAt, err = timePtrFromDB(completedAt); err != nil {
		return nil, err
	}
	return &w, nil
}
