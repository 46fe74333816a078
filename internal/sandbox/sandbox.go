// Package sandbox exposes the bounded navigation operations a
// reasoning model may run against a repository: cached file reads,
// symbol lookup, text search, import and tree projections. Every
// operation is confined to the repository root fixed at construction
// time; escape attempts come back as errors, never as content.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackyshang/AICodeReviewer/internal/index"
)

const (
	// defaultSearchTimeout bounds one external search run.
	defaultSearchTimeout = 30 * time.Second

	// defaultMaxResults caps search output so pathologically common
	// patterns cannot flood the conversation.
	defaultMaxResults = 100
)

// ErrSearchTimeout reports that an external search exceeded its
// wall-clock budget. Callers translate it into a tool-facing message.
var ErrSearchTimeout = errors.New("search timeout")

// Match is one line hit from a text search.
type Match struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// Summary reports navigation activity for one review.
type Summary struct {
	FilesCached   int      `json:"files_cached"`
	TokenEstimate int      `json:"total_tokens_estimate"`
	FilesRead     []string `json:"files_read"`
}

// Navigator provides sandboxed navigation over one repository for the
// duration of one review. The file cache is scoped to this instance
// and is never shared across sessions.
type Navigator struct {
	root  string // absolute, symlink-resolved
	index *index.Index

	mu    sync.Mutex
	cache map[string]string

	searchTimeout time.Duration
	maxResults    int
}

// NewNavigator creates a navigator rooted at repoPath. The root is
// resolved once; all operation paths are checked against it.
func NewNavigator(repoPath string, idx *index.Index) (*Navigator, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolve repo path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve repo path: %w", err)
	}
	if idx == nil {
		idx = index.Empty(filepath.Base(resolved))
	}
	return &Navigator{
		root:          resolved,
		index:         idx,
		cache:         make(map[string]string),
		searchTimeout: defaultSearchTimeout,
		maxResults:    defaultMaxResults,
	}, nil
}

// Root returns the resolved repository root.
func (n *Navigator) Root() string {
	return n.root
}

// The error texts below are sent to the model verbatim as tool
// results, so they are part of the tool protocol and stay stable.

func errAccessDenied(path string) error {
	return fmt.Errorf("Error: Access denied - path outside repository: %s", path)
}

func errInvalidPath(path string) error {
	return fmt.Errorf("Error: Invalid path: %s", path)
}

func errNotFound(path string) error {
	return fmt.Errorf("Error: File not found: %s", path)
}

func errNotAFile(path string) error {
	return fmt.Errorf("Error: Not a file: %s", path)
}

func errBinaryFile(path string) error {
	return fmt.Errorf("Error: Cannot read binary file: %s", path)
}

// contain resolves a caller-supplied path and enforces the
// containment boundary. It returns the absolute path to use. The
// lexical check runs before anything touches the filesystem; the
// symlink resolution afterwards catches links pointing outside.
// Absolute arguments are not re-rooted, so they fail containment
// unless they already point inside the repository.
func (n *Navigator) contain(rel string) (string, error) {
	full := rel
	if !filepath.IsAbs(full) {
		full = filepath.Join(n.root, full)
	}
	full = filepath.Clean(full)
	if full != n.root && !strings.HasPrefix(full, n.root+string(filepath.Separator)) {
		return "", errAccessDenied(rel)
	}

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if os.IsNotExist(err) {
			// Nonexistent paths are contained lexically; existence is
			// the caller's next check.
			return full, nil
		}
		return "", errInvalidPath(rel)
	}
	if resolved != n.root && !strings.HasPrefix(resolved, n.root+string(filepath.Separator)) {
		return "", errAccessDenied(rel)
	}
	return resolved, nil
}

// ReadFile returns the content of a file relative to the repository
// root. Reads are cached for the life of the navigator; repeated reads
// of the same path do not touch disk again.
func (n *Navigator) ReadFile(path string) (string, error) {
	n.mu.Lock()
	if content, ok := n.cache[path]; ok {
		n.mu.Unlock()
		return content, nil
	}
	n.mu.Unlock()

	full, err := n.contain(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errNotFound(path)
		}
		return "", errInvalidPath(path)
	}
	if !info.Mode().IsRegular() {
		return "", errNotAFile(path)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("Error reading file: %v", err)
	}
	if isBinary(data) {
		return "", errBinaryFile(path)
	}

	content := string(data)
	n.mu.Lock()
	n.cache[path] = content
	n.mu.Unlock()
	return content, nil
}

// isBinary reports whether data looks like a non-text file. A NUL
// byte in the first 8000 bytes is the same heuristic git uses.
func isBinary(data []byte) bool {
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	for _, b := range head {
		if b == 0 {
			return true
		}
	}
	return false
}

// SearchSymbol returns the definition sites recorded in the index for
// an exact symbol name.
func (n *Navigator) SearchSymbol(name string) []index.Symbol {
	return n.index.Lookup(name)
}

// FindUsages finds whole-word occurrences of a symbol name across the
// repository. The name is regexp-escaped; results are capped.
func (n *Navigator) FindUsages(name string) ([]Match, error) {
	pattern := `\b` + regexp.QuoteMeta(name) + `\b`
	out, err := n.runSearch(pattern, "")
	if err != nil {
		if errors.Is(err, ErrSearchTimeout) {
			return nil, fmt.Errorf("Search timeout - symbol name too common or codebase too large")
		}
		return nil, err
	}
	return n.parseMatches(out), nil
}

// SearchText searches the repository for a caller-supplied regular
// expression, optionally restricted by a file glob such as "*.go".
// The pattern is passed through unescaped.
func (n *Navigator) SearchText(pattern, fileGlob string) ([]Match, error) {
	out, err := n.runSearch(pattern, fileGlob)
	if err != nil {
		if errors.Is(err, ErrSearchTimeout) {
			return nil, fmt.Errorf("Search timeout - pattern too broad or codebase too large")
		}
		return nil, err
	}
	return n.parseMatches(out), nil
}

// runSearch shells out to ripgrep, falling back to grep when rg is
// unavailable or errors out. Both paths share one wall-clock budget.
func (n *Navigator) runSearch(pattern, fileGlob string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), n.searchTimeout)
	defer cancel()

	args := []string{"-n", "--no-heading", pattern}
	if fileGlob != "" {
		args = append(args, "--glob", fileGlob)
	}
	args = append(args, n.root)
	out, err := runCommand(ctx, "rg", args...)
	if err == nil {
		return out, nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return "", ErrSearchTimeout
	}

	gargs := []string{"-rn"}
	if fileGlob != "" {
		gargs = append(gargs, "--include", fileGlob)
	}
	gargs = append(gargs, pattern, n.root)
	out, err = runCommand(ctx, "grep", gargs...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", ErrSearchTimeout
		}
		// Exit status 1 means no matches; anything else is also
		// treated as an empty result rather than a loop-fatal error.
		return "", nil
	}
	return out, nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// matchLine parses "path:line:content" search output.
var matchLine = regexp.MustCompile(`^(.+?):(\d+):(.*)$`)

func (n *Navigator) parseMatches(out string) []Match {
	var results []Match
	for _, line := range strings.Split(out, "\n") {
		if len(results) >= n.maxResults {
			break
		}
		m := matchLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		rel, err := filepath.Rel(n.root, m[1])
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		lineNo, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		results = append(results, Match{
			File:    rel,
			Line:    lineNo,
			Content: strings.TrimSpace(m[3]),
		})
	}
	return results
}

// GetImports returns the imports of a file, preferring the index and
// falling back to a best-effort scan of the file itself.
func (n *Navigator) GetImports(path string) []string {
	if imports := n.index.ImportsOf(path); imports != nil {
		return imports
	}

	content, err := n.ReadFile(path)
	if err != nil {
		return nil
	}
	return scanImports(path, content)
}

var (
	pythonImport = regexp.MustCompile(`(?m)^\s*(?:from\s+(\S+)\s+)?import\s+(.+)$`)
	jsImport     = regexp.MustCompile(`(?m)^\s*import\s+.*?\s+from\s+['"](.+?)['"]`)
	jsRequire    = regexp.MustCompile(`require\(['"](.+?)['"]\)`)
	goImportOne  = regexp.MustCompile(`(?m)^import\s+(?:\w+\s+)?"(.+?)"`)
	goImportList = regexp.MustCompile(`(?s)import\s*\((.*?)\)`)
	goQuoted     = regexp.MustCompile(`"(.+?)"`)
)

// scanImports extracts imports from source text by extension. It only
// needs to be good enough to orient the model when the index lacks an
// entry.
func scanImports(path, content string) []string {
	var imports []string

	switch {
	case strings.HasSuffix(path, ".py"):
		for _, m := range pythonImport.FindAllStringSubmatch(content, -1) {
			if m[1] != "" {
				imports = append(imports, m[1])
				continue
			}
			for _, imp := range strings.Split(m[2], ",") {
				imp = strings.TrimSpace(strings.SplitN(imp, " as ", 2)[0])
				if imp != "" {
					imports = append(imports, imp)
				}
			}
		}

	case hasAnySuffix(path, ".js", ".ts", ".jsx", ".tsx"):
		for _, m := range jsImport.FindAllStringSubmatch(content, -1) {
			imports = append(imports, m[1])
		}
		for _, m := range jsRequire.FindAllStringSubmatch(content, -1) {
			imports = append(imports, m[1])
		}

	case strings.HasSuffix(path, ".go"):
		for _, m := range goImportOne.FindAllStringSubmatch(content, -1) {
			imports = append(imports, m[1])
		}
		for _, block := range goImportList.FindAllStringSubmatch(content, -1) {
			for _, m := range goQuoted.FindAllStringSubmatch(block[1], -1) {
				imports = append(imports, m[1])
			}
		}
	}

	return dedupe(imports)
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// FileTree renders the indexed project structure.
func (n *Navigator) FileTree() string {
	return n.index.RenderTree()
}

// Summary reports what this navigator has read so far. The token
// estimate is the usual four-characters-per-token approximation.
func (n *Navigator) Summary() Summary {
	n.mu.Lock()
	defer n.mu.Unlock()

	files := make([]string, 0, len(n.cache))
	chars := 0
	for path, content := range n.cache {
		files = append(files, path)
		chars += len(content)
	}
	return Summary{
		FilesCached:   len(n.cache),
		TokenEstimate: chars / 4,
		FilesRead:     files,
	}
}
