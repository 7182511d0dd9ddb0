// Package git shells out to the git binary for every version-control
// side effect of the task pipeline.
package git

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Repository represents a local git working copy
type Repository struct {
	path string
}

// NewRepository creates a handler for the working copy at path
func NewRepository(path string) *Repository {
	return &Repository{path: path}
}

// Path returns the working copy location
func (r *Repository) Path() string {
	return r.path
}

// run executes a git command in the repository, capturing stderr into
// the returned error.
func (r *Repository) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.path

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Clone clones remoteURL into path. The URL may embed credentials; it
// is never echoed into errors or logs.
func Clone(remoteURL, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	cmd := exec.Command("git", "clone", remoteURL, path)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Scrub the authenticated URL from git's message
		msg := strings.ReplaceAll(strings.TrimSpace(stderr.String()), remoteURL, "<remote>")
		return fmt.Errorf("git clone failed: %s", msg)
	}
	return nil
}

// IsGitRepo checks whether path holds VCS metadata
func IsGitRepo(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

// Fetch updates remote tracking refs
func (r *Repository) Fetch() error {
	_, err := r.run("fetch", "origin")
	return err
}

// PullFastForward fast-forwards the current branch. A merge that cannot
// fast-forward is a fatal error for the request.
func (r *Repository) PullFastForward() error {
	if _, err := r.run("pull", "--ff-only"); err != nil {
		return fmt.Errorf("fast-forward failed (local history has diverged): %w", err)
	}
	return nil
}

// CurrentBranch returns the checked-out branch name
func (r *Repository) CurrentBranch() (string, error) {
	out, err := r.run("branch", "--show-current")
	if err != nil {
		return "", fmt.Errorf("failed to get branch: %w", err)
	}
	return out, nil
}

// DefaultBranch resolves the remote HEAD (usually main or master)
func (r *Repository) DefaultBranch() (string, error) {
	out, err := r.run("symbolic-ref", "refs/remotes/origin/HEAD")
	if err != nil {
		// Remote HEAD may be unset on fresh clones of odd remotes
		return r.CurrentBranch()
	}
	return strings.TrimPrefix(out, "refs/remotes/origin/"), nil
}

// CreateBranch creates and checks out a new branch from current HEAD
func (r *Repository) CreateBranch(name string) error {
	if _, err := r.run("checkout", "-b", name); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", name, err)
	}
	return nil
}

// Checkout switches to an existing branch
func (r *Repository) Checkout(branch string) error {
	if _, err := r.run("checkout", branch); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", branch, err)
	}
	return nil
}

// HasChanges returns true when the working tree has any modification,
// staged or not, including untracked files.
func (r *Repository) HasChanges() (bool, error) {
	out, err := r.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// CommitAll stages everything and commits with the given message
func (r *Repository) CommitAll(message string) error {
	if _, err := r.run("add", "-A"); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}
	if _, err := r.run("commit", "-m", message); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// PushUpstream pushes the branch and sets its upstream. On failure the
// push is retried exactly once after a fetch; persistent failure is
// surfaced to the caller.
func (r *Repository) PushUpstream(branch string) error {
	_, err := r.run("push", "-u", "origin", branch)
	if err == nil {
		return nil
	}

	if fetchErr := r.Fetch(); fetchErr != nil {
		return fmt.Errorf("push failed and fetch for retry failed: %w", fetchErr)
	}
	if _, retryErr := r.run("push", "-u", "origin", branch); retryErr != nil {
		return fmt.Errorf("push failed after retry: %w", retryErr)
	}
	return nil
}
