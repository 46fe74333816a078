package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TestRepo wraps a temporary git repository for testing.
type TestRepo struct {
	T   *testing.T
	Dir string
}

// NewTestRepo creates a temp dir, initializes git, and configures user identity.
func NewTestRepo(t *testing.T) *TestRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	r := &TestRepo{T: t, Dir: dir}
	r.Run("init")
	r.Run("config", "user.email", "test@test.com")
	r.Run("config", "user.name", "Test")
	return r
}

// Run executes a git command in the repo and fails the test on error.
func (r *TestRepo) Run(args ...string) string {
	r.T.Helper()
	return runGit(r.T, r.Dir, args...)
}

// CommitFile writes a file and commits it.
func (r *TestRepo) CommitFile(filename, content, msg string) {
	r.T.Helper()
	r.WriteFile(filename, content)
	r.Run("add", filename)
	r.Run("commit", "-m", msg)
}

// WriteFile writes a file without committing it.
func (r *TestRepo) WriteFile(filename, content string) {
	r.T.Helper()
	path := filepath.Join(r.Dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		r.T.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		r.T.Fatal(err)
	}
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func TestIsRepo(t *testing.T) {
	ctx := context.Background()

	t.Run("true inside a work tree", func(t *testing.T) {
		r := NewTestRepo(t)
		if !IsRepo(ctx, r.Dir) {
			t.Error("expected IsRepo=true for initialized repo")
		}
	})

	t.Run("false for plain directory", func(t *testing.T) {
		if _, err := exec.LookPath("git"); err != nil {
			t.Skip("git not available")
		}
		if IsRepo(ctx, t.TempDir()) {
			t.Error("expected IsRepo=false for non-git dir")
		}
	})
}

func TestRepoRoot(t *testing.T) {
	ctx := context.Background()
	r := NewTestRepo(t)
	r.CommitFile("main.py", "print('hi')\n", "init")

	sub := filepath.Join(r.Dir, "pkg", "inner")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	root, err := RepoRoot(ctx, sub)
	if err != nil {
		t.Fatalf("RepoRoot failed: %v", err)
	}

	// Resolve symlinks on both sides; macOS TempDir lives under /var -> /private/var
	wantRoot, _ := filepath.EvalSymlinks(r.Dir)
	gotRoot, _ := filepath.EvalSymlinks(root)
	if gotRoot != wantRoot {
		t.Errorf("RepoRoot = %s, want %s", gotRoot, wantRoot)
	}

	if _, err := RepoRoot(ctx, t.TempDir()); err == nil {
		t.Error("expected error for non-git dir")
	}
}

func TestUncommittedChangesClean(t *testing.T) {
	ctx := context.Background()
	r := NewTestRepo(t)
	r.CommitFile("main.py", "print('hi')\n", "init")

	changes, err := UncommittedChanges(ctx, r.Dir)
	if err != nil {
		t.Fatalf("UncommittedChanges failed: %v", err)
	}
	if !changes.Empty() {
		t.Errorf("expected clean tree, got %+v", changes)
	}
	if changes.Count() != 0 {
		t.Errorf("Count = %d, want 0", changes.Count())
	}
}

func TestUncommittedChangesBuckets(t *testing.T) {
	ctx := context.Background()
	r := NewTestRepo(t)
	r.CommitFile("modified.py", "original\n", "init")
	r.CommitFile("deleted.py", "doomed\n", "add doomed file")

	// Unstaged modification
	r.WriteFile("modified.py", "changed\n")
	// Staged addition
	r.WriteFile("staged.py", "new file\n")
	r.Run("add", "staged.py")
	// Unstaged deletion
	if err := os.Remove(filepath.Join(r.Dir, "deleted.py")); err != nil {
		t.Fatal(err)
	}
	// Untracked file
	r.WriteFile("temp.txt", "Temporary file\n")

	changes, err := UncommittedChanges(ctx, r.Dir)
	if err != nil {
		t.Fatalf("UncommittedChanges failed: %v", err)
	}

	if !contains(changes.Modified, "modified.py") {
		t.Errorf("Modified = %v, want modified.py", changes.Modified)
	}
	if !contains(changes.Added, "staged.py") {
		t.Errorf("Added = %v, want staged.py", changes.Added)
	}
	if !contains(changes.Deleted, "deleted.py") {
		t.Errorf("Deleted = %v, want deleted.py", changes.Deleted)
	}
	if !contains(changes.Untracked, "temp.txt") {
		t.Errorf("Untracked = %v, want temp.txt", changes.Untracked)
	}
	if changes.Count() != 4 {
		t.Errorf("Count = %d, want 4", changes.Count())
	}
}

func TestUncommittedChangesStagedModification(t *testing.T) {
	ctx := context.Background()
	r := NewTestRepo(t)
	r.CommitFile("app.py", "v1\n", "init")

	r.WriteFile("app.py", "v2\n")
	r.Run("add", "app.py")

	changes, err := UncommittedChanges(ctx, r.Dir)
	if err != nil {
		t.Fatalf("UncommittedChanges failed: %v", err)
	}
	if !contains(changes.Modified, "app.py") {
		t.Errorf("Modified = %v, want app.py", changes.Modified)
	}
}

func TestUncommittedChangesUntrackedDirExpanded(t *testing.T) {
	ctx := context.Background()
	r := NewTestRepo(t)
	r.CommitFile("main.py", "print('hi')\n", "init")

	r.WriteFile("newdir/one.py", "1\n")
	r.WriteFile("newdir/two.py", "2\n")

	changes, err := UncommittedChanges(ctx, r.Dir)
	if err != nil {
		t.Fatalf("UncommittedChanges failed: %v", err)
	}

	if !contains(changes.Untracked, "newdir/one.py") || !contains(changes.Untracked, "newdir/two.py") {
		t.Errorf("Untracked = %v, want individual files under newdir/", changes.Untracked)
	}
}

func TestParsePorcelain(t *testing.T) {
	tests := []struct {
		name      string
		out       string
		modified  []string
		added     []string
		deleted   []string
		untracked []string
	}{
		{
			name: "empty output",
			out:  "",
		},
		{
			name:      "one of each",
			out:       " M mod.py\nA  new.py\n D gone.py\n?? temp.txt\n",
			modified:  []string{"mod.py"},
			added:     []string{"new.py"},
			deleted:   []string{"gone.py"},
			untracked: []string{"temp.txt"},
		},
		{
			name:     "staged and unstaged modification listed once",
			out:      "MM both.py\n",
			modified: []string{"both.py"},
		},
		{
			name:     "staged add with unstaged edit lands in both buckets",
			out:      "AM fresh.py\n",
			modified: []string{"fresh.py"},
			added:    []string{"fresh.py"},
		},
		{
			name:    "rename tracks old and new path",
			out:     "R  old.py -> new.py\n",
			added:   []string{"new.py"},
			deleted: []string{"old.py"},
		},
		{
			name:     "merge conflict surfaces as modified",
			out:      "UU clash.py\n",
			modified: []string{"clash.py"},
		},
		{
			name:      "quoted path with spaces",
			out:       "?? \"has space.txt\"\n",
			untracked: []string{"has space.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := parsePorcelain(tt.out)
			assertBucket(t, "Modified", ch.Modified, tt.modified)
			assertBucket(t, "Added", ch.Added, tt.added)
			assertBucket(t, "Deleted", ch.Deleted, tt.deleted)
			assertBucket(t, "Untracked", ch.Untracked, tt.untracked)
		})
	}
}

func assertBucket(t *testing.T, name string, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("%s = %v, want %v", name, got, want)
		return
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s = %v, want %v", name, got, want)
			return
		}
	}
}

func TestDiffStagedAndUnstaged(t *testing.T) {
	ctx := context.Background()
	r := NewTestRepo(t)
	r.CommitFile("app.py", "line one\n", "init")

	r.WriteFile("app.py", "line one\nline two\n")

	unstaged, err := Diff(ctx, r.Dir, "app.py", false)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if !strings.Contains(unstaged, "+line two") {
		t.Errorf("unstaged diff missing addition:\n%s", unstaged)
	}

	staged, err := Diff(ctx, r.Dir, "app.py", true)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if staged != "" {
		t.Errorf("expected empty staged diff, got:\n%s", staged)
	}

	r.Run("add", "app.py")

	staged, err = Diff(ctx, r.Dir, "app.py", true)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if !strings.Contains(staged, "+line two") {
		t.Errorf("staged diff missing addition after git add:\n%s", staged)
	}

	unstaged, err = Diff(ctx, r.Dir, "app.py", false)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if unstaged != "" {
		t.Errorf("expected empty unstaged diff after git add, got:\n%s", unstaged)
	}
}

func TestDiffsUntrackedSynthetic(t *testing.T) {
	ctx := context.Background()
	r := NewTestRepo(t)
	r.CommitFile("main.py", "print('hi')\n", "init")

	r.WriteFile("new.txt", "first\nsecond\n")

	changes, err := UncommittedChanges(ctx, r.Dir)
	if err != nil {
		t.Fatalf("UncommittedChanges failed: %v", err)
	}

	diffs, err := Diffs(ctx, r.Dir, changes)
	if err != nil {
		t.Fatalf("Diffs failed: %v", err)
	}

	want := "--- /dev/null\n+++ b/new.txt\n@@ -0,0 +1,2 @@\n+first\n+second\n"
	if diffs["new.txt"] != want {
		t.Errorf("synthetic diff = %q, want %q", diffs["new.txt"], want)
	}
}

func TestDiffsBinaryUntracked(t *testing.T) {
	ctx := context.Background()
	r := NewTestRepo(t)
	r.CommitFile("main.py", "print('hi')\n", "init")

	binPath := filepath.Join(r.Dir, "blob.dat")
	if err := os.WriteFile(binPath, []byte{0x00, 0x01, 0x02, 0xff}, 0644); err != nil {
		t.Fatal(err)
	}

	changes, err := UncommittedChanges(ctx, r.Dir)
	if err != nil {
		t.Fatalf("UncommittedChanges failed: %v", err)
	}

	diffs, err := Diffs(ctx, r.Dir, changes)
	if err != nil {
		t.Fatalf("Diffs failed: %v", err)
	}

	if diffs["blob.dat"] != "Binary or unreadable file: blob.dat" {
		t.Errorf("binary placeholder = %q", diffs["blob.dat"])
	}
}

func TestDiffsTrackedPreferStaged(t *testing.T) {
	ctx := context.Background()
	r := NewTestRepo(t)
	r.CommitFile("staged.py", "a\n", "init")
	r.CommitFile("unstaged.py", "x\n", "more")

	r.WriteFile("staged.py", "a\nb\n")
	r.Run("add", "staged.py")
	r.WriteFile("unstaged.py", "x\ny\n")

	changes, err := UncommittedChanges(ctx, r.Dir)
	if err != nil {
		t.Fatalf("UncommittedChanges failed: %v", err)
	}

	diffs, err := Diffs(ctx, r.Dir, changes)
	if err != nil {
		t.Fatalf("Diffs failed: %v", err)
	}

	if !strings.Contains(diffs["staged.py"], "+b") {
		t.Errorf("staged.py diff missing staged addition:\n%s", diffs["staged.py"])
	}
	if !strings.Contains(diffs["unstaged.py"], "+y") {
		t.Errorf("unstaged.py diff missing unstaged addition:\n%s", diffs["unstaged.py"])
	}
}

func TestDiffsSkipsLockFiles(t *testing.T) {
	ctx := context.Background()
	r := NewTestRepo(t)
	r.CommitFile("main.py", "print('hi')\n", "init")

	r.WriteFile("package-lock.json", "{}\n")
	r.WriteFile("vendor/go.sum", "abc\n")
	r.WriteFile("real.py", "code\n")

	changes, err := UncommittedChanges(ctx, r.Dir)
	if err != nil {
		t.Fatalf("UncommittedChanges failed: %v", err)
	}

	diffs, err := Diffs(ctx, r.Dir, changes)
	if err != nil {
		t.Fatalf("Diffs failed: %v", err)
	}

	if _, ok := diffs["package-lock.json"]; ok {
		t.Error("package-lock.json should be excluded from diffs")
	}
	if _, ok := diffs["vendor/go.sum"]; ok {
		t.Error("nested go.sum should be excluded from diffs")
	}
	if _, ok := diffs["real.py"]; !ok {
		t.Error("real.py should be present in diffs")
	}
}

func TestDiffsDeletedFile(t *testing.T) {
	ctx := context.Background()
	r := NewTestRepo(t)
	r.CommitFile("gone.py", "old content\n", "init")

	if err := os.Remove(filepath.Join(r.Dir, "gone.py")); err != nil {
		t.Fatal(err)
	}

	changes, err := UncommittedChanges(ctx, r.Dir)
	if err != nil {
		t.Fatalf("UncommittedChanges failed: %v", err)
	}

	diffs, err := Diffs(ctx, r.Dir, changes)
	if err != nil {
		t.Fatalf("Diffs failed: %v", err)
	}

	if !strings.Contains(diffs["gone.py"], "-old content") {
		t.Errorf("deletion diff missing removed line:\n%s", diffs["gone.py"])
	}
}

func TestIsExcludedPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"go.sum", true},
		{"sub/dir/go.sum", true},
		{"yarn.lock", true},
		{"main.py", false},
		{"notgo.sum.txt", false},
		{"mygo.sum", false},
	}

	for _, tt := range tests {
		if got := isExcludedPath(tt.path); got != tt.want {
			t.Errorf("isExcludedPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestHooksPath(t *testing.T) {
	ctx := context.Background()
	r := NewTestRepo(t)
	r.CommitFile("main.py", "print('hi')\n", "init")

	path, err := HooksPath(ctx, r.Dir)
	if err != nil {
		t.Fatalf("HooksPath failed: %v", err)
	}
	if filepath.Base(path) != "hooks" {
		t.Errorf("HooksPath = %s, want a .../hooks directory", path)
	}
	if !filepath.IsAbs(path) {
		t.Errorf("HooksPath = %s, want absolute path", path)
	}
}

func TestUntrackedDiffEmptyFile(t *testing.T) {
	got := untrackedDiff("empty.txt", nil)
	want := "--- /dev/null\n+++ b/empty.txt\n@@ -0,0 +1,0 @@\n"
	if got != want {
		t.Errorf("untrackedDiff = %q, want %q", got, want)
	}
}
