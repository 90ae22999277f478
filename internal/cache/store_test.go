package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loomworks/loom/internal/task"
)

// The driver only honors pragmas passed in _pragma DSN form; they must hold
// on every pooled connection, not just the first one opened.
func TestOpenAppliesConnectionPragmas(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	for i := 0; i < 4; i++ {
		var mode string
		if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatalf("journal_mode query failed: %v", err)
		}
		if mode != "wal" {
			t.Errorf("journal_mode = %q, want wal", mode)
		}

		var busy int
		if err := s.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy); err != nil {
			t.Fatalf("busy_timeout query failed: %v", err)
		}
		if busy != 5000 {
			t.Errorf("busy_timeout = %d, want 5000", busy)
		}

		var fk int
		if err := s.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatalf("foreign_keys query failed: %v", err)
		}
		if fk != 1 {
			t.Error("foreign_keys must be enabled")
		}
	}
}

func TestConcurrentWritersQueueOnBusyTimeout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	a, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	b, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to open second store: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	if err := a.InsertTask(ctx, newTask("task-a", task.StatusReady)); err != nil {
		t.Fatalf("insert via first handle failed: %v", err)
	}
	if err := b.InsertTask(ctx, newTask("task-b", task.StatusReady)); err != nil {
		t.Fatalf("insert via second handle failed: %v", err)
	}
	if _, err := a.GetTask(ctx, "task-b"); err != nil {
		t.Errorf("write from second handle must be visible: %v", err)
	}
}
