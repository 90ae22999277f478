package engine

import "context"

// Pull merges remote state into the local logs and re-imports. Newly seen
// ids are registered so Generate never collides with them.
func (e *Engine) Pull(ctx context.Context) error {
	stats, err := e.sync.Pull(ctx)
	if err != nil {
		return err
	}
	e.registerImported(stats)
	return nil
}

// Push publishes local state to the remote.
func (e *Engine) Push(ctx context.Context) error {
	return e.sync.Push(ctx)
}

// Flush exports pending changes immediately instead of waiting out the
// debounce.
func (e *Engine) Flush(ctx context.Context) error {
	return e.sync.Flush(ctx)
}
