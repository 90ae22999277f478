// Package gitrepo shells out to the git CLI for the version-control side of
// the sync protocol. Using os/exec instead of a reimplementation keeps the
// engine compatible with the user's SSH keys, signing config, and credential
// helpers. All cross-machine transport is delegated to git's own remotes.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrMergeConflict is returned by Pull when the merge stopped on conflicted
// files. The caller is expected to resolve them and finish the merge.
var ErrMergeConflict = errors.New("merge conflict")

// Commander executes commands. The indirection exists so tests can run
// against a fake instead of a real git binary.
type Commander interface {
	RunInDir(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ShellCommander executes real commands.
type ShellCommander struct{}

// RunInDir executes a command in the given directory, honoring the context's
// deadline. Stderr is folded into the error for diagnostics.
func (c *ShellCommander) RunInDir(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return strings.TrimSpace(stdout.String()), fmt.Errorf("%w: %s", err, msg)
		}
		return strings.TrimSpace(stdout.String()), err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Repo wraps git operations on the directory holding the durable log files.
type Repo struct {
	dir    string
	remote string
	branch string
	cmd    Commander
}

// New creates a Repo for the given directory, remote, and branch.
func New(dir, remote, branch string) *Repo {
	return NewWithCommander(dir, remote, branch, &ShellCommander{})
}

// NewWithCommander creates a Repo with a custom commander (for testing).
func NewWithCommander(dir, remote, branch string, cmd Commander) *Repo {
	return &Repo{dir: dir, remote: remote, branch: branch, cmd: cmd}
}

// Dir returns the repository directory.
func (r *Repo) Dir() string {
	return r.dir
}

func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	return r.cmd.RunInDir(ctx, r.dir, "git", args...)
}

// IsRepository reports whether the directory is inside a git work tree.
func (r *Repo) IsRepository(ctx context.Context) bool {
	_, err := r.git(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// Init creates a repository in the directory if one does not exist.
func (r *Repo) Init(ctx context.Context) error {
	if r.IsRepository(ctx) {
		return nil
	}
	if _, err := r.git(ctx, "init"); err != nil {
		return fmt.Errorf("git init: %w", err)
	}
	return nil
}

// HasRemote reports whether the configured remote exists.
func (r *Repo) HasRemote(ctx context.Context) bool {
	_, err := r.git(ctx, "remote", "get-url", r.remote)
	return err == nil
}

// CommitAll stages every change under the directory and commits it. Returns
// false with no error when there was nothing to commit.
func (r *Repo) CommitAll(ctx context.Context, message string) (bool, error) {
	if _, err := r.git(ctx, "add", "-A", "."); err != nil {
		return false, fmt.Errorf("git add: %w", err)
	}
	// diff --cached exits non-zero when something is staged.
	if _, err := r.git(ctx, "diff", "--cached", "--quiet"); err == nil {
		return false, nil
	}
	if _, err := r.git(ctx, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("git commit: %w", err)
	}
	return true, nil
}

// Pull fetches and merges the configured remote branch. Returns
// ErrMergeConflict when the merge stopped on conflicts, leaving the index in
// the conflicted state for the caller to resolve.
func (r *Repo) Pull(ctx context.Context) error {
	_, err := r.git(ctx, "pull", "--no-rebase", "--no-edit", r.remote, r.branch)
	if err == nil {
		return nil
	}

	conflicted, cErr := r.ConflictedFiles(ctx)
	if cErr == nil && len(conflicted) > 0 {
		return fmt.Errorf("%w: %s", ErrMergeConflict, strings.Join(conflicted, ", "))
	}
	return fmt.Errorf("git pull: %w", err)
}

// Push sends the current branch to the configured remote.
func (r *Repo) Push(ctx context.Context) error {
	if _, err := r.git(ctx, "push", r.remote, r.branch); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}

// ConflictedFiles lists paths with unresolved merge conflicts.
func (r *Repo) ConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := r.git(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("git diff: %w", err)
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// StageContent returns the content of a conflicted file from one merge
// stage: 2 is "ours" (local), 3 is "theirs" (remote).
func (r *Repo) StageContent(ctx context.Context, stage int, path string) ([]byte, error) {
	out, err := r.git(ctx, "show", fmt.Sprintf(":%d:%s", stage, path))
	if err != nil {
		return nil, fmt.Errorf("git show stage %d of %s: %w", stage, path, err)
	}
	return []byte(out), nil
}

// Add stages one path.
func (r *Repo) Add(ctx context.Context, path string) error {
	if _, err := r.git(ctx, "add", path); err != nil {
		return fmt.Errorf("git add %s: %w", path, err)
	}
	return nil
}

// CommitMerge concludes an in-progress merge after conflicts were resolved.
func (r *Repo) CommitMerge(ctx context.Context, message string) error {
	if _, err := r.git(ctx, "commit", "-m", message); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	return nil
}

// AbortMerge throws away an in-progress merge, restoring the pre-pull state.
func (r *Repo) AbortMerge(ctx context.Context) error {
	if _, err := r.git(ctx, "merge", "--abort"); err != nil {
		return fmt.Errorf("git merge --abort: %w", err)
	}
	return nil
}
