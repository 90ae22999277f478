package syncer

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch re-imports whenever another process rewrites a log file. Our own
// exports also fire events; the checksum comparison in EnsureFresh turns
// those into no-ops. Blocks until ctx is cancelled.
func (s *Syncer) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.store.Dir()); err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".jsonl" {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if _, err := s.EnsureFresh(ctx); err != nil {
				s.logger.Warn("re-import after file change failed",
					"file", event.Name, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("file watcher error", "error", err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
