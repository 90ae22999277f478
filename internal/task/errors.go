package task

import "errors"

// Error taxonomy shared across the engine. Transient conditions
// (ErrAlreadyClaimed, ErrSyncFailure) are meant to be retried by callers;
// structural errors (ErrUnknownBlocker, ErrCyclicDependency) reject the
// operation outright with no partial effect.
var (
	// ErrInvalidTransition is returned when an attempted state change is not
	// permitted from the task's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyClaimed is returned when a claim loses the race: another
	// caller claimed the task first.
	ErrAlreadyClaimed = errors.New("task already claimed")

	// ErrUnknownBlocker is returned at creation when a blocker id does not
	// refer to any known task.
	ErrUnknownBlocker = errors.New("unknown blocker")

	// ErrCyclicDependency is returned at creation when the blocker graph
	// would contain a cycle, including a task blocking on itself.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrNotFound is returned when a task or workflow id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCorruptRecord marks a log line that failed to parse. It is recovered
	// locally by skipping the line and never propagated as a fatal error.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrSyncConflict reports that a merge occurred and was resolved
	// automatically by the last-writer-wins policy, discarding one side.
	ErrSyncConflict = errors.New("sync conflict")

	// ErrSyncFailure is returned when pull or push could not complete.
	// Retryable.
	ErrSyncFailure = errors.New("sync failure")

	// ErrStorageFailure is returned on a disk write or fsync failure. Writes
	// use atomic rename, so a failed write never leaves a partial log file.
	ErrStorageFailure = errors.New("storage failure")
)
