// Package logstore manages the durable, version-controlled representation of
// all entities: one line-delimited JSON file per kind, plus one file per
// worker-scoped memory stream. Files are full-state snapshots rewritten
// atomically, not transaction logs, which keeps merge semantics simple for
// the version-control layer.
package logstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/loomworks/loom/internal/task"
)

const (
	fileExt      = ".jsonl"
	lockFileName = ".loom.lock"
)

// Store reads and writes JSONL log files in a single directory.
// Cross-process exclusion is provided by a file lock next to the data files,
// so several local processes can share one log directory safely.
type Store struct {
	dir    string
	fl     *flock.Flock
	logger *slog.Logger
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		fl:     flock.New(filepath.Join(dir, lockFileName)),
		logger: logger,
	}, nil
}

// Dir returns the directory holding the log files.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path for a kind.
func (s *Store) Path(kind string) string {
	return filepath.Join(s.dir, sanitizeKind(kind)+fileExt)
}

// sanitizeKind maps a kind name onto a safe file name component.
func sanitizeKind(kind string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '-'
	}, kind)
}

// WriteAll writes the complete current set of a kind's records, one JSON
// object per line, overwriting the file atomically: write to a temp file,
// fsync, rename. A failed write never leaves a partial log file.
func (s *Store) WriteAll(kind string, records [][]byte) error {
	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("%w: locking log directory: %v", task.ErrStorageFailure, err)
	}
	defer func() { _ = s.fl.Unlock() }()

	var buf bytes.Buffer
	for _, rec := range records {
		buf.Write(bytes.TrimSpace(rec))
		buf.WriteByte('\n')
	}

	return s.atomicWrite(s.Path(kind), buf.Bytes())
}

func (s *Store) atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", task.ErrStorageFailure, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing %s: %v", task.ErrStorageFailure, path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: fsync %s: %v", task.ErrStorageFailure, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing temp file: %v", task.ErrStorageFailure, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: renaming into place: %v", task.ErrStorageFailure, err)
	}
	return nil
}

// Append adds a single record to a kind's file without rewriting it.
// Used for worker memory streams, which are append-only by nature.
func (s *Store) Append(kind string, record []byte) error {
	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("%w: locking log directory: %v", task.ErrStorageFailure, err)
	}
	defer func() { _ = s.fl.Unlock() }()

	f, err := os.OpenFile(s.Path(kind), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", task.ErrStorageFailure, s.Path(kind), err)
	}
	defer f.Close()

	line := append(bytes.TrimSpace(record), '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("%w: appending to %s: %v", task.ErrStorageFailure, s.Path(kind), err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: fsync %s: %v", task.ErrStorageFailure, s.Path(kind), err)
	}
	return nil
}

// ReadAll parses every line of a kind's file. A line that fails to parse as
// a JSON object is skipped and logged as a warning rather than aborting the
// read; the skipped count is returned so callers can surface it. A missing
// file reads as empty.
func (s *Store) ReadAll(kind string) ([][]byte, int, error) {
	if err := s.fl.RLock(); err != nil {
		return nil, 0, fmt.Errorf("%w: locking log directory: %v", task.ErrStorageFailure, err)
	}
	defer func() { _ = s.fl.Unlock() }()

	data, err := os.ReadFile(s.Path(kind))
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: reading %s: %v", task.ErrStorageFailure, s.Path(kind), err)
	}

	records, skipped := ParseLines(data)
	if skipped > 0 {
		s.logger.Warn("skipped corrupt log lines",
			"kind", kind, "skipped", skipped, "file", s.Path(kind))
	}
	return records, skipped, nil
}

// ParseLines splits JSONL content into records, dropping lines that are not
// JSON objects. Corruption is self-healing: a corrupt line is simply absent
// after the next full-snapshot rewrite.
func ParseLines(data []byte) (records [][]byte, skipped int) {
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !looksLikeObject(line) {
			skipped++
			continue
		}
		records = append(records, line)
	}
	return records, skipped
}

// looksLikeObject is a cheap structural check: a record must be a complete
// JSON object on one line. Full decoding is left to the caller, which knows
// the entity type.
func looksLikeObject(line []byte) bool {
	return line[0] == '{' && line[len(line)-1] == '}' && json.Valid(line)
}

// Checksum returns the sha256 digest of a kind's file content as lowercase
// hex, supporting staleness detection without a full parse. A missing file
// has an empty checksum.
func (s *Store) Checksum(kind string) (string, error) {
	data, err := os.ReadFile(s.Path(kind))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", task.ErrStorageFailure, s.Path(kind), err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ModifiedTime returns the mtime of a kind's file. The second return value
// reports whether the file exists.
func (s *Store) ModifiedTime(kind string) (time.Time, bool, error) {
	info, err := os.Stat(s.Path(kind))
	if os.IsNotExist(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: stat %s: %v", task.ErrStorageFailure, s.Path(kind), err)
	}
	return info.ModTime(), true, nil
}

// Kinds lists the kinds present in the log directory.
func (s *Store) Kinds() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", task.ErrStorageFailure, s.dir, err)
	}
	var kinds []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		kinds = append(kinds, strings.TrimSuffix(name, fileExt))
	}
	return kinds, nil
}
