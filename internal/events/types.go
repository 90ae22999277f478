package events

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Topic constants.
const (
	TopicTask = "task"
	TopicSync = "sync"
)

// Event type constants.
const (
	TypeTaskCreated   = "task.created"
	TypeTaskClaimed   = "task.claimed"
	TypeTaskStarted   = "task.started"
	TypeTaskCompleted = "task.completed"
	TypeTaskUnblocked = "task.unblocked"
	TypeTaskReleased  = "task.released"
	TypeTaskCancelled = "task.cancelled"
	TypeSyncImported  = "sync.imported"
	TypeSyncExported  = "sync.exported"
	TypeSyncPulled    = "sync.pulled"
	TypeSyncPushed    = "sync.pushed"
	TypeSyncConflict  = "sync.conflict"
)

// Event is a lifecycle notification published on the bus. Consumers outside
// the engine (orchestration layers, dashboards) subscribe to these instead
// of polling the cache.
type Event struct {
	ID        string    // ULID, unique per event
	Type      string    // One of the Type* constants
	TaskID    string    // Task or workflow id the event concerns, if any
	Worker    string    // Worker involved, if any
	Detail    string    // Free-form context (e.g. conflict ids)
	Timestamp time.Time
}

// New creates an event with a fresh ULID and the current time.
func New(eventType, taskID, worker, detail string) Event {
	return Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		TaskID:    taskID,
		Worker:    worker,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
}
