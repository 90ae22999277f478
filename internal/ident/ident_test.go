package ident

import (
	"strings"
	"testing"

	"github.com/sourcegraph/conc"
)

func TestGenerateFormat(t *testing.T) {
	g := New()

	id := g.Generate("task")
	if !strings.HasPrefix(id, "task-") {
		t.Fatalf("expected task- prefix, got %q", id)
	}

	suffix := strings.TrimPrefix(id, "task-")
	if len(suffix) != DefaultHexLength {
		t.Errorf("expected %d hex chars, got %d (%q)", DefaultHexLength, len(suffix), suffix)
	}
	for _, c := range suffix {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("expected lowercase hex, got %q", suffix)
			break
		}
	}
}

func TestGenerateUnique(t *testing.T) {
	g := New()

	seen := make(map[string]struct{})
	for i := 0; i < 5000; i++ {
		id := g.Generate("task")
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id issued: %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestGenerateConcurrent(t *testing.T) {
	g := New()

	const workers = 8
	const perWorker = 200

	results := make([][]string, workers)
	var wg conc.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Go(func() {
			ids := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				ids = append(ids, g.Generate("task"))
			}
			results[w] = ids
		})
	}
	wg.Wait()

	seen := make(map[string]struct{})
	for _, ids := range results {
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				t.Fatalf("duplicate id across goroutines: %q", id)
			}
			seen[id] = struct{}{}
		}
	}
}

func TestSuffixGrowsPastThreshold(t *testing.T) {
	g := New(WithGrowThreshold(10))

	for i := 0; i < 10; i++ {
		g.Generate("task")
	}

	id := g.Generate("task")
	suffix := strings.TrimPrefix(id, "task-")
	if len(suffix) != DefaultHexLength+1 {
		t.Errorf("expected suffix to grow to %d chars past threshold, got %d (%q)",
			DefaultHexLength+1, len(suffix), id)
	}
}

func TestRegisterCountsTowardThreshold(t *testing.T) {
	g := New(WithGrowThreshold(5))

	for i := 0; i < 5; i++ {
		g.Register("task", ChildID("task-abc123", i))
	}
	if g.Known("task") != 5 {
		t.Fatalf("expected 5 known ids, got %d", g.Known("task"))
	}

	id := g.Generate("task")
	if len(strings.TrimPrefix(id, "task-")) != DefaultHexLength+1 {
		t.Errorf("registered ids should count toward the grow threshold, got %q", id)
	}
}

func TestKindsAreIndependent(t *testing.T) {
	g := New(WithGrowThreshold(3))

	for i := 0; i < 3; i++ {
		g.Generate("task")
	}

	// Another kind starts at the default length.
	id := g.Generate("wf")
	if len(strings.TrimPrefix(id, "wf-")) != DefaultHexLength {
		t.Errorf("kinds should have independent corpora, got %q", id)
	}
}

func TestChildID(t *testing.T) {
	if got := ChildID("task-a1b2c3", 1); got != "task-a1b2c3.1" {
		t.Errorf("ChildID = %q, want %q", got, "task-a1b2c3.1")
	}
	if got := ChildID("task-a1b2c3.1", 2); got != "task-a1b2c3.1.2" {
		t.Errorf("nested ChildID = %q, want %q", got, "task-a1b2c3.1.2")
	}
}
