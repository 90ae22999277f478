package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// fakeCommander records invocations and replays scripted results.
type fakeCommander struct {
	calls   []string
	results map[string]fakeResult
}

type fakeResult struct {
	out string
	err error
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{results: map[string]fakeResult{}}
}

func (f *fakeCommander) on(cmdline string, out string, err error) {
	f.results[cmdline] = fakeResult{out: out, err: err}
}

func (f *fakeCommander) RunInDir(_ context.Context, _, name string, args ...string) (string, error) {
	cmdline := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, cmdline)
	if res, ok := f.results[cmdline]; ok {
		return res.out, res.err
	}
	return "", nil
}

func (f *fakeCommander) called(cmdline string) bool {
	for _, c := range f.calls {
		if c == cmdline {
			return true
		}
	}
	return false
}

func TestCommitAllNothingStaged(t *testing.T) {
	fake := newFakeCommander()
	// diff --cached exits 0 when nothing is staged.
	repo := NewWithCommander("/data", "origin", "main", fake)

	committed, err := repo.CommitAll(context.Background(), "loom: export")
	if err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}
	if committed {
		t.Error("expected no commit when nothing staged")
	}
	if fake.called("git commit -m loom: export") {
		t.Error("commit should not run with a clean index")
	}
}

func TestCommitAllWithChanges(t *testing.T) {
	fake := newFakeCommander()
	fake.on("git diff --cached --quiet", "", fmt.Errorf("exit status 1"))
	repo := NewWithCommander("/data", "origin", "main", fake)

	committed, err := repo.CommitAll(context.Background(), "loom: export")
	if err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}
	if !committed {
		t.Error("expected a commit when changes are staged")
	}
	if !fake.called("git add -A .") || !fake.called("git commit -m loom: export") {
		t.Errorf("unexpected call sequence: %v", fake.calls)
	}
}

func TestPullCleanMerge(t *testing.T) {
	fake := newFakeCommander()
	repo := NewWithCommander("/data", "origin", "main", fake)

	if err := repo.Pull(context.Background()); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if !fake.called("git pull --no-rebase --no-edit origin main") {
		t.Errorf("unexpected calls: %v", fake.calls)
	}
}

func TestPullConflict(t *testing.T) {
	fake := newFakeCommander()
	fake.on("git pull --no-rebase --no-edit origin main", "", fmt.Errorf("exit status 1"))
	fake.on("git diff --name-only --diff-filter=U", "tasks.jsonl", nil)
	repo := NewWithCommander("/data", "origin", "main", fake)

	err := repo.Pull(context.Background())
	if !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "tasks.jsonl") {
		t.Errorf("expected conflicted path in error, got %v", err)
	}
}

func TestPullFailureWithoutConflict(t *testing.T) {
	fake := newFakeCommander()
	fake.on("git pull --no-rebase --no-edit origin main", "", fmt.Errorf("exit status 128: could not resolve host"))
	repo := NewWithCommander("/data", "origin", "main", fake)

	err := repo.Pull(context.Background())
	if err == nil || errors.Is(err, ErrMergeConflict) {
		t.Fatalf("expected plain failure, got %v", err)
	}
}

func TestConflictedFiles(t *testing.T) {
	fake := newFakeCommander()
	fake.on("git diff --name-only --diff-filter=U", "tasks.jsonl\nworkflows.jsonl", nil)
	repo := NewWithCommander("/data", "origin", "main", fake)

	files, err := repo.ConflictedFiles(context.Background())
	if err != nil {
		t.Fatalf("ConflictedFiles failed: %v", err)
	}
	if len(files) != 2 || files[0] != "tasks.jsonl" {
		t.Errorf("unexpected files: %v", files)
	}
}

func TestStageContent(t *testing.T) {
	fake := newFakeCommander()
	fake.on("git show :2:tasks.jsonl", `{"id":"task-a"}`, nil)
	repo := NewWithCommander("/data", "origin", "main", fake)

	content, err := repo.StageContent(context.Background(), 2, "tasks.jsonl")
	if err != nil {
		t.Fatalf("StageContent failed: %v", err)
	}
	if string(content) != `{"id":"task-a"}` {
		t.Errorf("unexpected content: %s", content)
	}
}
