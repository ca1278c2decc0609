// Package workspace manages the per-job git clones the agents mutate.
// Every job gets a fresh clone under the manager's root directory; the
// clone is removed once the job reaches a terminal state.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/patchstorm/patchstorm/internal/domain"
)

// Manager creates and disposes job workspaces
type Manager struct {
	root     string
	token    string
	gitName  string
	gitEmail string
}

// NewManager creates a Manager cloning under root. token is used for
// authenticated clone and push; gitName and gitEmail identify the
// committer on generated commits.
func NewManager(root, token, gitName, gitEmail string) *Manager {
	return &Manager{
		root:     root,
		token:    token,
		gitName:  gitName,
		gitEmail: gitEmail,
	}
}

// Workspace is one job's working clone
type Workspace struct {
	Dir string
	m   *Manager
}

// Clone clones the repository's default branch into a directory keyed by
// the job. An existing directory from an interrupted earlier attempt is
// removed first so the clone always starts clean.
func (m *Manager) Clone(ctx context.Context, repo domain.RepoID, jobKey string) (*Workspace, error) {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	dir := filepath.Join(m.root, jobKey)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("removing stale workspace: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", m.cloneURL(repo), dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git clone %s: %s: %w", repo, sanitize(string(out), m.token), err)
	}

	return &Workspace{Dir: dir, m: m}, nil
}

func (m *Manager) cloneURL(repo domain.RepoID) string {
	if m.token != "" {
		return fmt.Sprintf("https://oauth2:%s@github.com/%s.git", m.token, repo)
	}
	return fmt.Sprintf("https://github.com/%s.git", repo)
}

// Workdir returns the directory agents execute in
func (w *Workspace) Workdir() string {
	return w.Dir
}

// HasChanges reports whether the working tree differs from HEAD,
// including untracked files
func (w *Workspace) HasChanges() (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = w.Dir
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// Commit stages everything and commits it on the branch, returning the
// commit SHA. Safe to re-run: checkout -B re-targets an existing branch and
// an already-committed tree skips straight to rev-parse, so a publish retry
// lands on the same commit.
func (w *Workspace) Commit(branch, message string) (string, error) {
	cmd := exec.Command("git", "checkout", "-B", branch)
	cmd.Dir = w.Dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git checkout -B %s: %s: %w", branch, out, err)
	}

	cmd = exec.Command("git", "add", "-A")
	cmd.Dir = w.Dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git add: %s: %w", out, err)
	}

	dirty, err := w.HasChanges()
	if err != nil {
		return "", err
	}
	if dirty {
		cmd = exec.Command("git",
			"-c", "user.name="+w.m.gitName,
			"-c", "user.email="+w.m.gitEmail,
			"commit", "-m", message)
		cmd.Dir = w.Dir
		if out, err := cmd.CombinedOutput(); err != nil {
			return "", fmt.Errorf("git commit: %s: %w", out, err)
		}
	}

	cmd = exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = w.Dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Push force-pushes the branch to origin. Force push keeps retried
// publishes idempotent: the branch always ends up at the current commit.
func (w *Workspace) Push(ctx context.Context, branch string) error {
	cmd := exec.CommandContext(ctx, "git", "push", "--force", "origin", branch)
	cmd.Dir = w.Dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git push %s: %s: %w", branch, sanitize(string(out), w.m.token), err)
	}
	return nil
}

// DiffSummary returns a short stat of the committed changes against the
// default branch, used for dry-run reporting
func (w *Workspace) DiffSummary() (string, error) {
	cmd := exec.Command("git", "diff", "--stat", "HEAD~1", "HEAD")
	cmd.Dir = w.Dir
	out, err := cmd.Output()
	if err != nil {
		// Shallow clone with a single commit has no HEAD~1
		cmd = exec.Command("git", "show", "--stat", "--format=", "HEAD")
		cmd.Dir = w.Dir
		out, err = cmd.Output()
		if err != nil {
			return "", fmt.Errorf("git diff: %w", err)
		}
	}
	return strings.TrimSpace(string(out)), nil
}

// Remove deletes the workspace directory
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Dir)
}

// sanitize strips the auth token from command output before it lands in
// errors or logs
func sanitize(out, token string) string {
	out = strings.TrimSpace(out)
	if token == "" {
		return out
	}
	return strings.ReplaceAll(out, token, "***")
}
