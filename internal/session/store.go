package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jackyshang/AICodeReviewer/internal/index"
	"github.com/jackyshang/AICodeReviewer/internal/llm"
	"github.com/jackyshang/AICodeReviewer/internal/ratelimit"
	"github.com/jackyshang/AICodeReviewer/internal/review"
	"github.com/jackyshang/AICodeReviewer/internal/sandbox"
)

// Store owns every live session in the process and serves concurrent
// callers. Lookups and metadata mutations are atomic per key; reviews
// for different sessions run in parallel, reviews for one session run
// in order.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	provider llm.Provider
	limits   *ratelimit.Registry
	policy   *RootPolicy
}

// NewStore builds a store. limits may be nil to run unthrottled, for
// example against a local model. A nil policy selects
// DefaultRootPolicy.
func NewStore(provider llm.Provider, limits *ratelimit.Registry, policy *RootPolicy) *Store {
	if policy == nil {
		policy = DefaultRootPolicy()
	}
	return &Store{
		sessions: make(map[string]*Session),
		provider: provider,
		limits:   limits,
		policy:   policy,
	}
}

// Resolution reports how a session key resolved. PrevReviewedAt and
// PrevIssues hold the state the session had before this resolve
// bumped it; the continuation preamble needs the previous values, not
// the ones this request just wrote.
type Resolution struct {
	Session   *Session
	IsNew     bool
	Iteration int

	PrevReviewedAt time.Time
	PrevIssues     *int
}

// Resolve validates the project root and returns the session for
// (root, name), creating it with a fresh conversation handle on first
// use. An existing session has its iteration and last-reviewed time
// advanced. An empty name gets a generated one; an empty model the
// default.
func (st *Store) Resolve(projectRoot, name, model string) (*Resolution, error) {
	root, err := st.policy.Validate(projectRoot)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = autoName()
	}
	if model == "" {
		model = llm.DefaultModel
	}
	key := root + ":" + name

	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[key]; ok {
		res := &Resolution{
			Session:        s,
			PrevReviewedAt: s.lastReviewedAt,
			PrevIssues:     s.lastIssues,
		}
		s.iteration++
		s.lastReviewedAt = time.Now()
		res.Iteration = s.iteration
		return res, nil
	}

	handle, err := st.provider.NewConversation(model)
	if err != nil {
		return nil, fmt.Errorf("creating conversation for %s: %w", key, err)
	}
	now := time.Now()
	s := &Session{
		store:          st,
		key:            key,
		name:           name,
		root:           root,
		model:          model,
		handle:         handle,
		createdAt:      now,
		iteration:      1,
		lastReviewedAt: now,
	}
	st.sessions[key] = s
	return &Resolution{Session: s, IsNew: true, Iteration: 1}, nil
}

// Request describes one review invocation.
type Request struct {
	ProjectRoot   string
	SessionName   string // empty picks a generated name
	Context       string // prepared review context text
	Model         string // empty selects the default model
	MaxIterations int
	Index         *index.Index // optional pre-built navigation index
}

// Response couples one review's outcome with the session bookkeeping
// a front end reports alongside it.
type Response struct {
	Session        Info           `json:"session_info"`
	Status         string         `json:"session_status"` // "new" or "continued"
	PreviousIssues *int           `json:"previous_issues_count,omitempty"`
	Result         *review.Result `json:"review_result"`
}

// RunReview resolves the session and drives one review through the
// tool-calling loop. The navigation sandbox and its read cache are
// built fresh for each review; only the conversation carries over
// between iterations of a session.
func (st *Store) RunReview(ctx context.Context, req Request) (*Response, error) {
	res, err := st.Resolve(req.ProjectRoot, req.SessionName, req.Model)
	if err != nil {
		return nil, err
	}
	s := res.Session

	s.reviewMu.Lock()
	defer s.reviewMu.Unlock()

	nav, err := sandbox.NewNavigator(s.root, req.Index)
	if err != nil {
		return nil, fmt.Errorf("preparing navigation sandbox: %w", err)
	}

	prompt := req.Context
	status := "new"
	if !res.IsNew {
		status = "continued"
		prompt = continuationContext(res.Iteration, res.PrevReviewedAt, res.PrevIssues, req.Context)
	}

	var limiter *ratelimit.Limiter
	if st.limits != nil {
		limiter, err = st.limits.ForModel(s.model, ratelimit.DefaultTier)
		if err != nil {
			return nil, err
		}
	}

	result, err := review.NewLoop(s.handle, nav, limiter, req.MaxIterations).Run(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("review failed for %s: %w", s.key, err)
	}

	count := review.CountIssueMarkers(result.ReviewContent)
	st.mu.Lock()
	s.lastIssues = &count
	info := s.infoLocked()
	st.mu.Unlock()

	return &Response{
		Session:        info,
		Status:         status,
		PreviousIssues: res.PrevIssues,
		Result:         result,
	}, nil
}

// List returns a snapshot of every live session, oldest first.
func (st *Store) List() []Info {
	st.mu.Lock()
	defer st.mu.Unlock()

	infos := make([]Info, 0, len(st.sessions))
	for _, s := range st.sessions {
		infos = append(infos, s.infoLocked())
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].Key < infos[j].Key
	})
	return infos
}

// Get returns the session with the given composite key.
func (st *Store) Get(key string) (Info, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[key]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return s.infoLocked(), nil
}

// Clear removes the session with the given key and closes its
// conversation handle.
func (st *Store) Clear(key string) error {
	st.mu.Lock()
	s, ok := st.sessions[key]
	if ok {
		delete(st.sessions, key)
	}
	st.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := s.handle.Close(); err != nil {
		log.Printf("Warning: closing conversation for %s: %v", key, err)
	}
	return nil
}

// ClearAll removes every session and reports how many were cleared.
func (st *Store) ClearAll() int {
	st.mu.Lock()
	cleared := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		cleared = append(cleared, s)
	}
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	for _, s := range cleared {
		if err := s.handle.Close(); err != nil {
			log.Printf("Warning: closing conversation for %s: %v", s.key, err)
		}
	}
	return len(cleared)
}

// ActiveCount returns the number of live sessions.
func (st *Store) ActiveCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
