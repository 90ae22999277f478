package cache

import (
	"context"
	"testing"
	"time"
)

func TestSyncMetaRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, ok, err := s.GetSyncMeta(ctx, "tasks")
	if err != nil {
		t.Fatalf("GetSyncMeta failed: %v", err)
	}
	if ok {
		t.Fatal("expected no meta before first import")
	}

	when := time.Now().UTC().Truncate(time.Microsecond)
	if err := s.PutSyncMeta(ctx, SyncMeta{Kind: "tasks", LastImportTime: when, Checksum: "abc123"}); err != nil {
		t.Fatalf("PutSyncMeta failed: %v", err)
	}

	meta, ok, err := s.GetSyncMeta(ctx, "tasks")
	if err != nil {
		t.Fatalf("GetSyncMeta failed: %v", err)
	}
	if !ok || !meta.LastImportTime.Equal(when) || meta.Checksum != "abc123" {
		t.Errorf("meta round trip mismatch: %+v ok=%v", meta, ok)
	}

	// Second put replaces.
	later := when.Add(time.Minute)
	if err := s.PutSyncMeta(ctx, SyncMeta{Kind: "tasks", LastImportTime: later, Checksum: "def456"}); err != nil {
		t.Fatalf("PutSyncMeta failed: %v", err)
	}
	meta, _, err = s.GetSyncMeta(ctx, "tasks")
	if err != nil {
		t.Fatalf("GetSyncMeta failed: %v", err)
	}
	if !meta.LastImportTime.Equal(later) || meta.Checksum != "def456" {
		t.Errorf("meta not replaced: %+v", meta)
	}
}
