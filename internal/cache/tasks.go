package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/task"
)

// Filter narrows ListTasks results. Zero values match everything.
type Filter struct {
	Status     task.Status
	AssignedTo string
}

// InsertTask adds a newly created task. The id must not already exist.
func (s *Store) InsertTask(ctx context.Context, t *task.Task) error {
	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertTaskTx(ctx, tx, t, false); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpsertTask inserts or replaces a task by id. Used by the sync import path,
// where the log is a full snapshot and later-read entities overwrite earlier
// ones with the same id.
func (s *Store) UpsertTask(ctx context.Context, t *task.Task) error {
	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertTaskTx(ctx, tx, t, true); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertTaskTx(ctx context.Context, tx *sql.Tx, t *task.Task, upsert bool) error {
	blockers, err := json.Marshal(blockersOrEmpty(t.Blockers))
	if err != nil {
		return fmt.Errorf("failed to encode blockers: %w", err)
	}
	metadata, err := json.Marshal(metadataOrEmpty(t.Metadata))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	stmt := `
		INSERT INTO tasks (id, title, description, status, assigned_to, claimed_at, blockers, metadata, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if upsert {
		stmt += `
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			assigned_to = excluded.assigned_to,
			claimed_at = excluded.claimed_at,
			blockers = excluded.blockers,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			completed_at = excluded.completed_at`
	}

	_, err = tx.ExecContext(ctx, stmt,
		t.ID, t.Title, t.Description, string(t.Status), t.AssignedTo,
		timePtrToDB(t.ClaimedAt), string(blockers), string(metadata),
		timeToDB(t.CreatedAt), timePtrToDB(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
	}

	// Rebuild the blocker edges used for dependent lookup during cascades.
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_blockers WHERE task_id = ?`, t.ID); err != nil {
		return fmt.Errorf("failed to clear blocker edges: %w", err)
	}
	for _, blockerID := range t.Blockers {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO task_blockers (task_id, blocker_id) VALUES (?, ?)`,
			t.ID, blockerID)
		if err != nil {
			return fmt.Errorf("failed to insert blocker edge %s -> %s: %w", t.ID, blockerID, err)
		}
	}
	return nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, assigned_to, claimed_at, blockers, metadata, created_at, completed_at
		FROM tasks
		WHERE id = ?
	`, id)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, task.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return t, nil
}

// ListTasks returns all tasks matching the filter, ordered by creation time.
func (s *Store) ListTasks(ctx context.Context, f Filter) ([]*task.Task, error) {
	query := `
		SELECT id, title, description, status, assigned_to, claimed_at, blockers, metadata, created_at, completed_at
		FROM tasks`
	var args []any
	var conds []string
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.AssignedTo != "" {
		conds = append(conds, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// ReadyTasks returns every task whose status is ready. Readiness is
// maintained eagerly by the completion cascade, so this is a plain indexed
// status filter, not a graph traversal.
func (s *Store) ReadyTasks(ctx context.Context) ([]*task.Task, error) {
	return s.ListTasks(ctx, Filter{Status: task.StatusReady})
}

// Claim atomically transitions a ready task to claimed for the given worker.
// Implemented as a single conditional update so two concurrent callers can
// never both succeed: exactly one sees a row change, the other gets
// ErrAlreadyClaimed.
func (s *Store) Claim(ctx context.Context, id, worker string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, assigned_to = ?, claimed_at = ?
		WHERE id = ? AND status = ?
	`, string(task.StatusClaimed), worker, timeToDB(now), id, string(task.StatusReady))
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	return s.classifyFailedTransition(ctx, id, task.StatusClaimed)
}

// Start transitions a claimed task to in progress. Purely informational.
func (s *Store) Start(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ? WHERE id = ? AND status = ?
	`, string(task.StatusInProgress), id, string(task.StatusClaimed))
	if err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	return s.classifyFailedTransition(ctx, id, task.StatusInProgress)
}

// Complete transitions a claimed or in-progress task to completed and, in
// the same transaction, re-evaluates every task that lists it as a blocker:
// each blocked dependent whose blockers are now all completed becomes ready.
// Returns the ids of newly ready dependents. The cascade is a single pass:
// only completion unblocks, so a newly ready task triggers nothing further.
func (s *Store) Complete(ctx context.Context, id string, now time.Time) ([]string, error) {
	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, completed_at = ?, assigned_to = '', claimed_at = NULL
		WHERE id = ? AND status IN (?, ?)
	`, string(task.StatusCompleted), timeToDB(now), id,
		string(task.StatusClaimed), string(task.StatusInProgress))
	if err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		// Release the write lock before classifying: the status read runs
		// on another connection and would block behind this transaction.
		tx.Rollback()
		return nil, s.classifyFailedTransition(ctx, id, task.StatusCompleted)
	}

	// Find dependents and promote any whose blockers are all completed.
	// An edge to a missing task counts as incomplete, so dependents of
	// half-synced graphs stay blocked instead of running early.
	rows, err := tx.QueryContext(ctx, `SELECT task_id FROM task_blockers WHERE blocker_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependents: %w", err)
	}
	var dependents []string
	for rows.Next() {
		var depID string
		if err := rows.Scan(&depID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan dependent: %w", err)
		}
		dependents = append(dependents, depID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependents: %w", err)
	}

	var unblocked []string
	for _, depID := range dependents {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?
			WHERE id = ? AND status = ? AND NOT EXISTS (
				SELECT 1 FROM task_blockers b
				LEFT JOIN tasks t ON t.id = b.blocker_id
				WHERE b.task_id = ? AND (t.id IS NULL OR t.status != ?)
			)
		`, string(task.StatusReady), depID, string(task.StatusBlocked),
			depID, string(task.StatusCompleted))
		if err != nil {
			return nil, fmt.Errorf("failed to unblock dependent %s: %w", depID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			unblocked = append(unblocked, depID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return unblocked, nil
}

// Release returns a claimed or in-progress task to ready, clearing the
// worker assignment.
func (s *Store) Release(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, assigned_to = '', claimed_at = NULL
		WHERE id = ? AND status IN (?, ?)
	`, string(task.StatusReady), id,
		string(task.StatusClaimed), string(task.StatusInProgress))
	if err != nil {
		return fmt.Errorf("failed to release task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	return s.classifyFailedTransition(ctx, id, task.StatusReady)
}

// ReleaseExpired returns every claimed or in-progress task whose claim is
// older than the cutoff back to ready, treating the stalled worker's claim
// as abandoned. Returns the released ids.
func (s *Store) ReleaseExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM tasks
		WHERE status IN (?, ?) AND claimed_at IS NOT NULL AND claimed_at < ?
	`, string(task.StatusClaimed), string(task.StatusInProgress), timeToDB(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query expired claims: %w", err)
	}
	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expired claim: %w", err)
		}
		expired = append(expired, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expired claims: %w", err)
	}

	for _, id := range expired {
		_, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, assigned_to = '', claimed_at = NULL WHERE id = ?
		`, string(task.StatusReady), id)
		if err != nil {
			return nil, fmt.Errorf("failed to release expired claim %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return expired, nil
}

// Cancel transitions any non-terminal task to cancelled. Cancellation does
// not cascade: a cancelled task's dependents remain blocked, since
// cancellation is not completion.
func (s *Store) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, assigned_to = '', claimed_at = NULL
		WHERE id = ? AND status NOT IN (?, ?)
	`, string(task.StatusCancelled), id,
		string(task.StatusCompleted), string(task.StatusCancelled))
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	return s.classifyFailedTransition(ctx, id, task.StatusCancelled)
}

// classifyFailedTransition maps a zero-rows-affected conditional update onto
// the error taxonomy by inspecting the task's current status.
func (s *Store) classifyFailedTransition(ctx context.Context, id string, target task.Status) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("task %s: %w", id, task.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query task status: %w", err)
	}

	current := task.Status(status)
	if target == task.StatusClaimed && (current == task.StatusClaimed || current == task.StatusInProgress) {
		return fmt.Errorf("task %s is held by another worker: %w", id, task.ErrAlreadyClaimed)
	}
	return fmt.Errorf("task %s cannot go from %s to %s: %w", id, current, target, task.ErrInvalidTransition)
}

// TaskExists reports whether an id is present in the cache.
func (s *Store) TaskExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check task existence: %w", err)
	}
	return true, nil
}

// BlockerEdges returns the full blocker graph as task id -> blocker ids.
// Used for cycle validation at creation time.
func (s *Store) BlockerEdges(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, blocker_id FROM task_blockers`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocker edges: %w", err)
	}
	defer rows.Close()

	edges := make(map[string][]string)
	for rows.Next() {
		var taskID, blockerID string
		if err := rows.Scan(&taskID, &blockerID); err != nil {
			return nil, fmt.Errorf("failed to scan blocker edge: %w", err)
		}
		edges[taskID] = append(edges[taskID], blockerID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocker edges: %w", err)
	}
	return edges, nil
}

// ClearTasks removes all tasks and blocker edges. Test helper.
func (s *Store) ClearTasks(ctx context.Context) error {
	tx, err := s.beginImmediate(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_blockers`); err != nil {
		return fmt.Errorf("failed to clear blocker edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t           task.Task
		status      string
		claimedAt   sql.NullString
		completedAt sql.NullString
		blockers    string
		metadata    string
		createdAt   string
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &t.AssignedTo,
		&claimedAt, &blockers, &metadata, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.Status = task.Status(status)
	if err := json.Unmarshal([]byte(blockers), &t.Blockers); err != nil {
		return nil, fmt.Errorf("decoding blockers for %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata for %s: %w", t.ID, err)
	}
	if len(t.Blockers) == 0 {
		t.Blockers = nil
	}
	if len(t.Metadata) == 0 {
		t.Metadata = nil
	}
	if t.CreatedAt, err = timeFromDB(createdAt); err != nil {
		return nil, err
	}
	if t.ClaimedAt, err = timePtrFromDB(claimedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = timePtrFromDB(completedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func blockersOrEmpty(b []string) []string {
	if b == nil {
		return []string{}
	}
	return b
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
