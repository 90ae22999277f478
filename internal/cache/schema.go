package cache

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		assigned_to TEXT NOT NULL DEFAULT '',
		claimed_at TEXT,
		blockers TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	CREATE TABLE IF NOT EXISTS task_blockers (
		task_id TEXT NOT NULL,
		blocker_id TEXT NOT NULL,
		PRIMARY KEY (task_id, blocker_id)
	);

	CREATE INDEX IF NOT EXISTS idx_task_blockers_blocker_id ON task_blockers(blocker_id);

	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		current_step TEXT NOT NULL DEFAULT '',
		steps TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_meta (
		kind TEXT PRIMARY KEY,
		last_import_time TEXT NOT NULL,
		checksum TEXT NOT NULL DEFAULT ''
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
