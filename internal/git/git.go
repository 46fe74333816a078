package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// normalizeMSYSPath converts MSYS-style paths (e.g., /c/Users/...) to Windows paths (C:\Users\...).
// On non-Windows systems, it just applies filepath.FromSlash.
func normalizeMSYSPath(path string) string {
	path = strings.TrimSpace(path)
	// On Windows, MSYS paths like /c/Users/... need to be converted to C:\Users\...
	// Regular paths like C:/Users/... just need slash conversion
	if runtime.GOOS == "windows" && len(path) >= 3 && path[0] == '/' {
		// Check for MSYS-style drive letter: /c/ or /C/
		if (path[1] >= 'a' && path[1] <= 'z' || path[1] >= 'A' && path[1] <= 'Z') && path[2] == '/' {
			// Convert /c/... to C:/...
			path = strings.ToUpper(string(path[1])) + ":" + path[2:]
		}
	}
	return filepath.FromSlash(path)
}

// Changes holds uncommitted work grouped by status. A path appears in
// more than one bucket when it is, say, staged as added and then
// modified again in the working tree.
type Changes struct {
	Modified  []string
	Added     []string
	Deleted   []string
	Untracked []string
}

// Empty reports whether there is nothing to review.
func (c *Changes) Empty() bool {
	return c.Count() == 0
}

// Count returns the total number of changed paths across all buckets.
func (c *Changes) Count() int {
	return len(c.Modified) + len(c.Added) + len(c.Deleted) + len(c.Untracked)
}

// IsRepo reports whether path is inside a git working tree.
func IsRepo(ctx context.Context, path string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = path

	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// RepoRoot returns the root directory of the git repository containing path.
func RepoRoot(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = path

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse --show-toplevel: %w", err)
	}

	// Git on Windows can return MSYS-style paths (/c/Users/...) or forward-slash paths (C:/...).
	// Convert to native Windows paths for consistency with Go's filepath.
	return normalizeMSYSPath(string(out)), nil
}

// UncommittedChanges returns staged, unstaged, and untracked work in the
// repository, grouped by status. Untracked directories are expanded to
// individual files so each one can be rendered as a diff.
func UncommittedChanges(ctx context.Context, repoPath string) (*Changes, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain", "-uall")
	cmd.Dir = repoPath

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}

	return parsePorcelain(string(out)), nil
}

// parsePorcelain groups `git status --porcelain` lines into Changes.
// Each line is "XY <path>" where X is the index status and Y the
// working-tree status; renames carry "<old> -> <new>".
func parsePorcelain(out string) *Changes {
	ch := &Changes{}

	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		x, y := line[0], line[1]
		path := line[3:]

		if x == '?' && y == '?' {
			ch.Untracked = append(ch.Untracked, unquotePath(path))
			continue
		}

		// Renames and copies: the old path is gone, the new one appears
		if x == 'R' || x == 'C' {
			if old, renamed, ok := strings.Cut(path, " -> "); ok {
				if x == 'R' {
					ch.Deleted = append(ch.Deleted, unquotePath(old))
				}
				path = renamed
			}
			ch.Added = append(ch.Added, unquotePath(path))
			continue
		}

		// Merge conflicts surface as modified so they still get reviewed
		if x == 'U' || y == 'U' {
			ch.Modified = append(ch.Modified, unquotePath(path))
			continue
		}

		path = unquotePath(path)
		switch x {
		case 'A':
			ch.Added = append(ch.Added, path)
		case 'M':
			ch.Modified = append(ch.Modified, path)
		case 'D':
			ch.Deleted = append(ch.Deleted, path)
		}
		// Working-tree status; avoid double-listing "MM" and "DD" lines
		if y == 'M' && x != 'M' {
			ch.Modified = append(ch.Modified, path)
		}
		if y == 'D' && x != 'D' {
			ch.Deleted = append(ch.Deleted, path)
		}
	}

	return ch
}

// unquotePath strips git's C-style quoting from paths with special characters.
func unquotePath(path string) string {
	if len(path) >= 2 && strings.HasPrefix(path, `"`) && strings.HasSuffix(path, `"`) {
		if unquoted, err := strconv.Unquote(path); err == nil {
			return unquoted
		}
	}
	return path
}

// Diff returns the diff for a single file. With staged it compares the
// index against HEAD, otherwise the working tree against the index.
// Returns empty string if the file has no changes on that side.
func Diff(ctx context.Context, repoPath, filePath string, staged bool) (string, error) {
	args := []string{"diff"}
	if staged {
		args = append(args, "--cached")
	}
	args = append(args, "--", filePath)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git diff: %w", err)
	}

	return string(out), nil
}

// Diffs renders a diff for every changed path. Tracked files get the
// staged diff when one exists, the unstaged diff otherwise. Untracked
// files become an all-additions diff built from the file content, or a
// placeholder when the content is binary or unreadable. Generated lock
// files are skipped.
func Diffs(ctx context.Context, repoPath string, changes *Changes) (map[string]string, error) {
	diffs := make(map[string]string)

	tracked := make([]string, 0, len(changes.Modified)+len(changes.Added)+len(changes.Deleted))
	tracked = append(tracked, changes.Modified...)
	tracked = append(tracked, changes.Added...)
	tracked = append(tracked, changes.Deleted...)

	for _, file := range tracked {
		if isExcludedPath(file) {
			continue
		}
		if _, ok := diffs[file]; ok {
			continue
		}

		diff, err := Diff(ctx, repoPath, file, true)
		if err != nil {
			return nil, err
		}
		if diff == "" {
			diff, err = Diff(ctx, repoPath, file, false)
			if err != nil {
				return nil, err
			}
		}
		if diff != "" {
			diffs[file] = diff
		}
	}

	for _, file := range changes.Untracked {
		if isExcludedPath(file) {
			continue
		}

		content, err := os.ReadFile(filepath.Join(repoPath, file))
		if err != nil || isBinary(content) {
			diffs[file] = fmt.Sprintf("Binary or unreadable file: %s", file)
			continue
		}
		diffs[file] = untrackedDiff(file, content)
	}

	return diffs, nil
}

// untrackedDiff formats file content as a new-file diff with every line
// as an addition.
func untrackedDiff(path string, content []byte) string {
	var b strings.Builder

	lines := strings.Split(string(content), "\n")
	lineCount := len(lines)
	if lineCount > 0 && lines[lineCount-1] == "" {
		lineCount-- // Don't count trailing empty line from split
	}

	fmt.Fprintf(&b, "--- /dev/null\n+++ b/%s\n@@ -0,0 +1,%d @@\n", path, lineCount)
	for i, line := range lines {
		if i == len(lines)-1 && line == "" {
			continue
		}
		b.WriteString("+")
		b.WriteString(line)
		b.WriteString("\n")
	}

	return b.String()
}

// excludedPatterns lists generated files that add noise to reviews.
var excludedPatterns = []string{
	"uv.lock",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"Cargo.lock",
	"cargo.lock", // case-insensitive filesystems
	"Gemfile.lock",
	"poetry.lock",
	"composer.lock",
	"go.sum",
}

// isExcludedPath checks if a path matches an excluded filename, at the
// repo root or in any subdirectory.
func isExcludedPath(filePath string) bool {
	for _, p := range excludedPatterns {
		if filePath == p || strings.HasSuffix(filePath, "/"+p) {
			return true
		}
	}
	return false
}

// isBinary checks if content appears to be binary (contains null bytes in first 8KB)
func isBinary(content []byte) bool {
	checkLen := len(content)
	if checkLen > 8192 {
		checkLen = 8192
	}
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// HooksPath returns the path to the hooks directory, respecting core.hooksPath
func HooksPath(ctx context.Context, repoPath string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-path", "hooks")
	cmd.Dir = repoPath

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse --git-path hooks: %w", err)
	}

	hooksPath := strings.TrimSpace(string(out))

	// If the path is relative, make it absolute relative to repoPath
	if !filepath.IsAbs(hooksPath) {
		hooksPath = filepath.Join(repoPath, hooksPath)
	}

	return hooksPath, nil
}
