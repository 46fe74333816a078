// Package session implements the project-scoped review session store.
// A session binds a (project root, session name) key to one live
// conversation handle; repeat reviews for the same key continue that
// conversation with a preamble describing what happened last time.
// Sessions are memory-resident and die with the owning process.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackyshang/AICodeReviewer/internal/llm"
)

var (
	// ErrNotFound reports a lookup for a session key that does not
	// exist.
	ErrNotFound = errors.New("session not found")

	// ErrUnsafeRoot reports a project root that was rejected before
	// any session state was touched.
	ErrUnsafeRoot = errors.New("project root outside safe boundaries")
)

// RootPolicy decides which project roots reviews may run against.
// Roots are resolved before checking, so a symlink into a forbidden
// location does not pass.
type RootPolicy struct {
	prefixes []string
}

// NewRootPolicy allows roots under exactly the given prefixes.
func NewRootPolicy(prefixes ...string) *RootPolicy {
	return &RootPolicy{prefixes: prefixes}
}

// DefaultRootPolicy allows the user's home directory and the usual
// temp locations. The macOS temp prefixes are listed literally
// because os.TempDir there resolves to a per-user subdirectory.
func DefaultRootPolicy() *RootPolicy {
	var prefixes []string
	if home, err := os.UserHomeDir(); err == nil {
		prefixes = append(prefixes, home)
	}
	tmp := os.TempDir()
	if resolved, err := filepath.EvalSymlinks(tmp); err == nil {
		tmp = resolved
	}
	prefixes = append(prefixes, tmp, "/tmp", "/var/folders", "/private/var/folders")
	return &RootPolicy{prefixes: prefixes}
}

// Extend returns a policy that additionally allows roots under the
// given prefixes. Empty prefixes are skipped; the rest are resolved
// so they compare against resolved roots.
func (p *RootPolicy) Extend(prefixes ...string) *RootPolicy {
	merged := append([]string(nil), p.prefixes...)
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if abs, err := filepath.Abs(prefix); err == nil {
			prefix = abs
		}
		if resolved, err := filepath.EvalSymlinks(prefix); err == nil {
			prefix = resolved
		}
		merged = append(merged, prefix)
	}
	return &RootPolicy{prefixes: merged}
}

// Validate resolves root and checks it against the allowed prefixes.
// It returns the resolved absolute path to use as the session's
// project root.
func (p *RootPolicy) Validate(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not resolvable", ErrUnsafeRoot, root)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not resolvable", ErrUnsafeRoot, root)
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrUnsafeRoot, root)
	}
	for _, prefix := range p.prefixes {
		if resolved == prefix || strings.HasPrefix(resolved, prefix+string(filepath.Separator)) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsafeRoot, root)
}

// Session is one named, project-scoped conversation. The handle is
// owned exclusively by this session; reviews against it run one at a
// time. Mutable fields are guarded by the owning store's lock.
type Session struct {
	store *Store

	key    string
	name   string
	root   string
	model  string
	handle llm.Handle

	createdAt time.Time

	// guarded by store.mu
	iteration      int
	lastReviewedAt time.Time
	lastIssues     *int

	// serializes reviews using this session's handle
	reviewMu sync.Mutex
}

// Key returns the composite session key, projectRoot + ":" + name.
func (s *Session) Key() string { return s.key }

// Name returns the human-chosen session name.
func (s *Session) Name() string { return s.name }

// Root returns the resolved project root this session reviews.
func (s *Session) Root() string { return s.root }

// Info returns a point-in-time snapshot of the session's metadata.
func (s *Session) Info() Info {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() Info {
	return Info{
		Key:            s.key,
		Name:           s.name,
		Root:           s.root,
		Model:          s.model,
		Iteration:      s.iteration,
		CreatedAt:      s.createdAt,
		LastReviewedAt: s.lastReviewedAt,
		MessageCount:   s.handle.MessageCount(),
		LastIssues:     s.lastIssues,
	}
}

// Info is one session's metadata snapshot, shaped for listing and
// inspection surfaces.
type Info struct {
	Key            string    `json:"key"`
	Name           string    `json:"name"`
	Root           string    `json:"project_root"`
	Model          string    `json:"model"`
	Iteration      int       `json:"iteration"`
	CreatedAt      time.Time `json:"created_at"`
	LastReviewedAt time.Time `json:"last_reviewed"`
	MessageCount   int       `json:"messages"`
	LastIssues     *int      `json:"last_issues_count,omitempty"`
}

// autoName labels sessions the caller did not name.
func autoName() string {
	return "auto-" + uuid.NewString()[:8]
}
