package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncMeta is the cache's bookkeeping for one tracked log file: when it was
// last imported and what the file content looked like at that point. It
// decides whether a read must trigger a re-import.
type SyncMeta struct {
	Kind           string
	LastImportTime time.Time
	Checksum       string
}

// GetSyncMeta returns the sync metadata for a kind. The second return value
// reports whether an import has ever been recorded.
func (s *Store) GetSyncMeta(ctx context.Context, kind string) (SyncMeta, bool, error) {
	var (
		meta       SyncMeta
		lastImport string
	)
	meta.Kind = kind
	err := s.db.QueryRowContext(ctx, `
		SELECT last_import_time, checksum FROM sync_meta WHERE kind = ?
	`, kind).Scan(&lastImport, &meta.Checksum)
	if err == sql.ErrNoRows {
		return meta, false, nil
	}
	if err != nil {
		return meta, false, fmt.Errorf("failed to query sync meta: %w", err)
	}
	if meta.LastImportTime, err = timeFromDB(lastImport); err != nil {
		return meta, false, err
	}
	return meta, true, nil
}

// PutSyncMeta records an import (or export) of a kind.
func (s *Store) PutSyncMeta(ctx context.Context, meta SyncMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_meta (kind, last_import_time, checksum)
		VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			last_import_time = excluded.last_import_time,
			checksum = excluded.checksum
	`, meta.Kind, timeToDB(meta.LastImportTime), meta.Checksum)
	if err != nil {
		return fmt.Errorf("failed to store sync meta: %w", err)
	}
	return nil
}
