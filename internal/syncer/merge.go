package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/logstore"
	"github.com/loomworks/loom/internal/task"
)

// resolveConflicts settles a conflicted merge record by record. For each
// conflicted log file, the later write of every entity wins and entities
// present on only one side are kept. Memory streams merge by union since
// they are append-only. A conflicted file the syncer does not own aborts
// the merge.
func (s *Syncer) resolveConflicts(ctx context.Context) error {
	files, err := s.repo.ConflictedFiles(ctx)
	if err != nil {
		return fmt.Errorf("%w: list conflicts: %v", task.ErrSyncFailure, err)
	}

	for _, rel := range files {
		kind, ok := s.ownedKind(rel)
		if !ok {
			if abortErr := s.repo.AbortMerge(ctx); abortErr != nil {
				s.logger.Error("failed to abort merge", "error", abortErr)
			}
			return fmt.Errorf("%w: cannot resolve conflict in %s", task.ErrSyncFailure, rel)
		}

		ours, err := s.repo.StageContent(ctx, 2, rel)
		if err != nil {
			return fmt.Errorf("%w: read our side of %s: %v", task.ErrSyncFailure, rel, err)
		}
		theirs, err := s.repo.StageContent(ctx, 3, rel)
		if err != nil {
			return fmt.Errorf("%w: read their side of %s: %v", task.ErrSyncFailure, rel, err)
		}

		merged, discarded := mergeRecords(kind, ours, theirs)
		if err := s.store.WriteAll(kind, merged); err != nil {
			return err
		}
		if err := s.repo.Add(ctx, rel); err != nil {
			return fmt.Errorf("%w: stage resolution of %s: %v", task.ErrSyncFailure, rel, err)
		}

		if len(discarded) > 0 {
			detail := strings.Join(discarded, ",")
			s.logger.Warn("sync conflict resolved, older writes discarded",
				"kind", kind, "discarded", detail,
				"error", task.ErrSyncConflict)
			s.publish(events.New(events.TypeSyncConflict, "", "", detail))
		}
	}

	if err := s.repo.CommitMerge(ctx, "loom: merge remote state"); err != nil {
		return fmt.Errorf("%w: commit merge: %v", task.ErrSyncFailure, err)
	}
	return nil
}

// ownedKind maps a repo-relative path back to the log kind it stores,
// reporting false when the path is not one of the syncer's log files.
func (s *Syncer) ownedKind(rel string) (string, bool) {
	if filepath.Ext(rel) != ".jsonl" {
		return "", false
	}
	kind := strings.TrimSuffix(filepath.Base(rel), ".jsonl")
	abs := filepath.Join(s.repo.Dir(), filepath.FromSlash(rel))
	if abs != s.store.Path(kind) {
		return "", false
	}
	return kind, true
}

// mergeRecords combines two sides of a conflicted log file. Task and
// workflow logs merge per entity with the later write winning; every other
// kind is an append-only stream merged by union, our order first. Returns
// the merged lines and the ids whose older version was discarded.
func mergeRecords(kind string, ours, theirs []byte) ([][]byte, []string) {
	ourRecords, _ := logstore.ParseLines(ours)
	theirRecords, _ := logstore.ParseLines(theirs)

	switch kind {
	case KindTasks, KindWorkflows:
		return mergeByLastWrite(kind, ourRecords, theirRecords)
	default:
		return mergeUnion(ourRecords, theirRecords), nil
	}
}

type versioned struct {
	line      []byte
	lastWrite time.Time
}

func mergeByLastWrite(kind string, ours, theirs [][]byte) ([][]byte, []string) {
	byID := make(map[string]versioned)
	clashed := make(map[string]struct{})

	absorb := func(records [][]byte) {
		for _, rec := range records {
			id, lastWrite, ok := identify(kind, rec)
			if !ok {
				continue
			}
			prev, seen := byID[id]
			if !seen {
				byID[id] = versioned{line: rec, lastWrite: lastWrite}
				continue
			}
			// Ties keep the side absorbed first, which is ours.
			if lastWrite.After(prev.lastWrite) {
				byID[id] = versioned{line: rec, lastWrite: lastWrite}
			}
			if !bytes.Equal(rec, prev.line) {
				clashed[id] = struct{}{}
			}
		}
	}
	absorb(ours)
	absorb(theirs)

	discarded := make([]string, 0, len(clashed))
	for id := range clashed {
		discarded = append(discarded, id)
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	merged := make([][]byte, 0, len(ids))
	for _, id := range ids {
		merged = append(merged, byID[id].line)
	}
	sort.Strings(discarded)
	return merged, discarded
}

// identify extracts the id and last-write time of one record, tolerating
// records that fail to parse by dropping them from the merge.
func identify(kind string, rec []byte) (string, time.Time, bool) {
	switch kind {
	case KindTasks:
		var t task.Task
		if err := json.Unmarshal(rec, &t); err != nil || t.ID == "" {
			return "", time.Time{}, false
		}
		return t.ID, t.LastWrite(), true
	case KindWorkflows:
		var w task.Workflow
		if err := json.Unmarshal(rec, &w); err != nil || w.ID == "" {
			return "", time.Time{}, false
		}
		return w.ID, w.LastWrite(), true
	}
	return "", time.Time{}, false
}

func mergeUnion(ours, theirs [][]byte) [][]byte {
	seen := make(map[string]struct{}, len(ours))
	merged := make([][]byte, 0, len(ours)+len(theirs))
	for _, rec := range ours {
		key := string(bytes.TrimSpace(rec))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, rec)
	}
	for _, rec := range theirs {
		key := string(bytes.TrimSpace(rec))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, rec)
	}
	return merged
}
