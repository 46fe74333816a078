package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// GitRepo is a throwaway git repository for tests that exercise
// repo-relative behavior (hook install, root discovery).
type GitRepo struct {
	t    *testing.T
	dir  string
	real string // symlink-resolved dir, since git reports resolved paths on macOS
}

// NewGitRepo initializes an empty repository on a main branch inside a
// temp directory, with a throwaway committer identity.
func NewGitRepo(t *testing.T) *GitRepo {
	t.Helper()
	dir := t.TempDir()

	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		real = dir
	}

	r := &GitRepo{t: t, dir: dir, real: real}
	r.Run("init", "-b", "main")
	r.Run("config", "user.email", "test@test.com")
	r.Run("config", "user.name", "Test")
	return r
}

// Run executes one git command in the repository and fails the test on
// any error.
func (r *GitRepo) Run(args ...string) {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.dir
	if out, err := cmd.CombinedOutput(); err != nil {
		r.t.Fatalf("git %v: %s: %v", args, out, err)
	}
}

// Path returns the repository root with symlinks resolved, matching
// what rev-parse --show-toplevel reports.
func (r *GitRepo) Path() string {
	return r.real
}

// CommitFile writes a file and commits it.
func (r *GitRepo) CommitFile(name, content, msg string) {
	r.t.Helper()
	if err := os.WriteFile(filepath.Join(r.dir, name), []byte(content), 0644); err != nil {
		r.t.Fatal(err)
	}
	r.Run("add", name)
	r.Run("commit", "-m", msg)
}
