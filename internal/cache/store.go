// Package cache is the indexed, transactional local mirror of the durable
// log: every read the scheduler makes goes through here, and every state
// transition is applied here first, atomically, before being exported back
// to the log files. The cache is a local SQLite database and is never
// version-controlled.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed query cache.
type Store struct {
	db *sql.DB
}

// Open creates or opens the cache database at the given path, creating
// parent directories if needed. Enables WAL mode and a busy timeout so
// concurrent local processes queue instead of failing.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite ignores mattn-style parameters (_busy_timeout and
	// friends); its _pragma form applies to every pooled connection, which
	// a one-off Exec would not.
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return initStore(ctx, db)
}

// OpenMemory creates an in-memory cache for testing. Uses a shared cache so
// multiple connections see the same database.
func OpenMemory(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	return initStore(ctx, db)
}

func initStore(ctx context.Context, db *sql.DB) (*Store, error) {
	// One connection for primary statements, one for subqueries during list
	// scans (prevents deadlock when iterating rows while issuing lookups).
	db.SetMaxOpenConns(2)

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// beginImmediate starts a write transaction with serializable isolation.
func (s *Store) beginImmediate(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// Timestamps are stored as RFC3339Nano text so last-writer-wins comparisons
// survive the export/import round trip byte for byte.

func timeToDB(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func timePtrToDB(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeToDB(*t), Valid: true}
}

func timeFromDB(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func timePtrFromDB(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := timeFromDB(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
