package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/task"
)

// MemoryNote is one entry of a worker's append-only memory stream. Streams
// live in the synced data directory, one file per worker, and merge by
// union on conflict.
type MemoryNote struct {
	Worker    string    `json:"worker"`
	Note      string    `json:"note"`
	Timestamp time.Time `json:"timestamp"`
}

func memoryKind(worker string) string {
	return "memory-" + worker
}

// AppendMemory adds a note to the worker's memory stream.
func (e *Engine) AppendMemory(ctx context.Context, worker, note string) error {
	entry := MemoryNote{
		Worker:    worker,
		Note:      note,
		Timestamp: time.Now().UTC(),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: marshal memory note: %v", task.ErrStorageFailure, err)
	}
	return e.store.Append(memoryKind(worker), line)
}

// ReadMemory returns the worker's notes in append order. Unreadable lines
// are dropped, matching the tolerance of the task log reader.
func (e *Engine) ReadMemory(ctx context.Context, worker string) ([]MemoryNote, error) {
	records, skipped, err := e.store.ReadAll(memoryKind(worker))
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		e.logger.Warn("memory stream has unreadable entries",
			"worker", worker, "count", skipped)
	}

	notes := make([]MemoryNote, 0, len(records))
	for _, rec := range records {
		var n MemoryNote
		if err := json.Unmarshal(rec, &n); err != nil {
			continue
		}
		notes = append(notes, n)
	}
	return notes, nil
}
