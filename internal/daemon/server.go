package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jackyshang/AICodeReviewer/internal/archive"
	"github.com/jackyshang/AICodeReviewer/internal/config"
	"github.com/jackyshang/AICodeReviewer/internal/index"
	"github.com/jackyshang/AICodeReviewer/internal/prompt"
	"github.com/jackyshang/AICodeReviewer/internal/ratelimit"
	"github.com/jackyshang/AICodeReviewer/internal/review"
	"github.com/jackyshang/AICodeReviewer/internal/session"
	"github.com/jackyshang/AICodeReviewer/internal/version"
)

// Server exposes the review loop over local HTTP. It owns the session
// store, bounds review concurrency with a weighted semaphore, and keeps
// the activity and error logs that back the health endpoints. Reviews
// run synchronously: the response to POST /api/review is the full
// review result.
type Server struct {
	store         *session.Store
	limits        *ratelimit.Registry
	archive       archive.Store
	configWatcher *ConfigWatcher
	broadcaster   Broadcaster
	activityLog   *ActivityLog
	errorLog      *ErrorLog
	reviewSem     *semaphore.Weighted
	httpServer    *http.Server
	providerName  string
	startTime     time.Time
	shutdownCh    chan struct{}
	shutdownOnce  sync.Once
}

// ErrorResponse is the JSON error envelope for all endpoints
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse reports daemon liveness and current session state
type HealthResponse struct {
	Status         string             `json:"status"`
	Version        string             `json:"version"`
	PID            int                `json:"pid"`
	Uptime         string             `json:"uptime"`
	UptimeSeconds  int64              `json:"uptime_seconds"`
	ActiveSessions int                `json:"active_sessions"`
	Sessions       []session.Info     `json:"sessions"`
	RateLimits     map[string]float64 `json:"rate_limits,omitempty"`
	Errors24h      int                `json:"errors_24h"`
	RecentErrors   []ErrorEntry       `json:"recent_errors,omitempty"`
}

// ReviewRequest is the body of POST /api/review. Context carries the
// fully prepared review prompt; the daemon never shells out to git
// itself. Index is an optional pre-built navigation index in its JSON
// wire form.
type ReviewRequest struct {
	ProjectRoot   string          `json:"project_root"`
	SessionName   string          `json:"session_name,omitempty"`
	NoSession     bool            `json:"no_session,omitempty"`
	Context       string          `json:"context,omitempty"`
	Mode          string          `json:"mode,omitempty"`
	Provider      string          `json:"provider,omitempty"`
	Model         string          `json:"model,omitempty"`
	MaxIterations int             `json:"max_iterations,omitempty"`
	Index         json.RawMessage `json:"index,omitempty"`
}

// PollResponse is the body of GET /api/poll. LastSeq is the value to
// pass as since on the next poll.
type PollResponse struct {
	Events  []Event `json:"events"`
	LastSeq uint64  `json:"last_seq"`
}

// NewServer creates a daemon server around an existing session store.
// limits may be nil when rate limiting is disabled; arch may be nil
// when archiving is unavailable.
func NewServer(store *session.Store, limits *ratelimit.Registry, arch archive.Store, cfg *config.Config, configPath string) *Server {
	broadcaster := NewBroadcaster()

	errorLog, err := NewErrorLog(DefaultErrorLogPath())
	if err != nil {
		log.Printf("Warning: failed to create error log: %v", err)
	}
	activityLog, err := NewActivityLog(DefaultActivityLogPath())
	if err != nil {
		log.Printf("Warning: failed to create activity log: %v", err)
	}

	// Create config watcher for hot-reloading
	configWatcher := NewConfigWatcher(configPath, cfg, broadcaster, activityLog)

	maxConcurrent := cfg.MaxConcurrentReviews
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultConfig().MaxConcurrentReviews
	}

	// The provider is fixed at startup: conversation handles belong to
	// the provider that created them, so switching requires a restart.
	providerName := cfg.Provider
	if providerName == "" {
		providerName = config.DefaultConfig().Provider
	}

	s := &Server{
		store:         store,
		limits:        limits,
		archive:       arch,
		configWatcher: configWatcher,
		broadcaster:   broadcaster,
		activityLog:   activityLog,
		errorLog:      errorLog,
		reviewSem:     semaphore.NewWeighted(int64(maxConcurrent)),
		providerName:  providerName,
		startTime:     time.Now(),
		shutdownCh:    make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/review", s.handleReview)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSession)
	mux.HandleFunc("/api/activity", s.handleActivity)
	mux.HandleFunc("/api/poll", s.handlePoll)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)

	s.httpServer = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: mux,
	}

	return s
}

// Start begins serving. Blocks until the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	// Clean up any zombie daemons first (there can be only one)
	if cleaned := CleanupZombieDaemons(); cleaned > 0 {
		log.Printf("Cleaned up %d zombie daemon(s)", cleaned)
	}

	// Check if a responsive daemon is still running after cleanup
	if info, err := FindRuntime(); err == nil && IsDaemonAlive(info.Addr) {
		return fmt.Errorf("daemon already running (pid %d on %s)", info.PID, info.Addr)
	}

	// Start config watcher for hot-reloading
	if err := s.configWatcher.Start(ctx); err != nil {
		log.Printf("Warning: failed to start config watcher: %v", err)
		// Continue without hot-reloading - not a fatal error
	}

	// Find available port
	cfg := s.configWatcher.Config()
	addr, port, err := FindAvailablePort(cfg.ServerAddr)
	if err != nil {
		s.configWatcher.Stop()
		return fmt.Errorf("find available port: %w", err)
	}
	s.httpServer.Addr = addr

	// Write runtime info so CLI can find us
	if err := WriteRuntime(addr, port, version.Version); err != nil {
		log.Printf("Warning: failed to write runtime info: %v", err)
	}

	if s.activityLog != nil {
		s.activityLog.Log("daemon.started", "server", "daemon started", map[string]string{
			"addr":    addr,
			"version": version.Version,
		})
	}

	log.Printf("Starting HTTP server on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		s.configWatcher.Stop()
		return err
	}
	return nil
}

// Stop gracefully shuts down the server. In-flight reviews get the
// shutdown grace period to finish; session conversations are closed
// afterwards since they cannot outlive the process anyway.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Remove runtime info
	RemoveRuntime()

	// Stop config watcher
	s.configWatcher.Stop()

	// Stop HTTP server
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Close session conversations
	s.store.ClearAll()

	if s.activityLog != nil {
		s.activityLog.Log("daemon.stopped", "server", "daemon stopped", nil)
		s.activityLog.Close()
	}
	if s.errorLog != nil {
		s.errorLog.Close()
	}

	return nil
}

// ShutdownRequested returns a channel that is closed when a client
// asks the daemon to shut down via POST /api/shutdown.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeInternalError writes an internal error response and logs it
func (s *Server) writeInternalError(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusInternalServerError, msg)
	if s.errorLog != nil {
		s.errorLog.LogError("server", msg, "")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	uptime := time.Since(s.startTime)
	resp := HealthResponse{
		Status:         "running",
		Version:        version.Version,
		PID:            os.Getpid(),
		Uptime:         formatDuration(uptime),
		UptimeSeconds:  int64(uptime.Seconds()),
		ActiveSessions: s.store.ActiveCount(),
		Sessions:       s.store.List(),
	}
	if s.limits != nil {
		resp.RateLimits = s.limits.Snapshot()
	}
	if s.errorLog != nil {
		resp.Errors24h = s.errorLog.Count24h()
		resp.RecentErrors = s.errorLog.RecentN(5)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Limit request body size. The prepared review context is capped
	// client-side at 250KB; the optional navigation index can add a few
	// MB on large repos.
	const maxReviewBodySize = 8 * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, maxReviewBodySize)

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Use errors.As for reliable detection of MaxBytesReader errors
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large (max 8MB)")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ProjectRoot == "" {
		writeError(w, http.StatusBadRequest, "project_root is required")
		return
	}

	if req.Provider != "" && req.Provider != s.providerName {
		writeError(w, http.StatusBadRequest, fmt.Sprintf(
			"daemon is running provider %q; restart it to use %q", s.providerName, req.Provider))
		return
	}

	var idx *index.Index
	if len(req.Index) > 0 {
		parsed, err := index.Parse(req.Index)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid index: %v", err))
			return
		}
		idx = parsed
	}

	// Defaults resolve against the live config so edits to config.toml
	// apply to the next review without a restart.
	cfg := s.configWatcher.Config()
	model := req.Model
	if model == "" {
		model = cfg.Model
	}
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = cfg.MaxIterations
	}
	timeout := time.Duration(cfg.ReviewTimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultConfig().ReviewTimeoutMinutes) * time.Minute
	}
	mode := prompt.NewBuilder(req.Mode).Mode()

	// Bound concurrent reviews. Waiters queue here; a client that
	// disconnects while queued releases its slot via the request context.
	if err := s.reviewSem.Acquire(r.Context(), 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "request canceled while waiting for review slot")
		return
	}
	defer s.reviewSem.Release(1)

	s.broadcaster.Broadcast(Event{
		Type:    "review.started",
		TS:      time.Now(),
		Root:    req.ProjectRoot,
		Session: req.SessionName,
		Model:   model,
	})
	if s.activityLog != nil {
		s.activityLog.Log("review.started", "review", "review started", map[string]string{
			"project_root": req.ProjectRoot,
			"session":      req.SessionName,
			"mode":         mode,
			"model":        model,
		})
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	resp, err := s.store.RunReview(ctx, session.Request{
		ProjectRoot:   req.ProjectRoot,
		SessionName:   req.SessionName,
		Context:       req.Context,
		Model:         model,
		MaxIterations: maxIterations,
		Index:         idx,
	})
	if err != nil {
		s.broadcaster.Broadcast(Event{
			Type:    "review.failed",
			TS:      time.Now(),
			Root:    req.ProjectRoot,
			Session: req.SessionName,
			Model:   model,
			Error:   err.Error(),
		})
		if s.errorLog != nil {
			s.errorLog.LogError("review", err.Error(), req.SessionName)
		}
		switch {
		case errors.Is(err, session.ErrUnsafeRoot):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, review.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, fmt.Sprintf("review timed out after %s", timeout))
		default:
			s.writeInternalError(w, fmt.Sprintf("review failed: %v", err))
		}
		return
	}

	s.archiveReview(mode, resp)

	s.broadcaster.Broadcast(Event{
		Type:    "review.completed",
		TS:      time.Now(),
		Root:    resp.Session.Root,
		Session: resp.Session.Name,
		Model:   resp.Session.Model,
	})
	if s.activityLog != nil {
		details := map[string]string{
			"project_root": resp.Session.Root,
			"session":      resp.Session.Name,
			"iteration":    strconv.Itoa(resp.Session.Iteration),
		}
		if resp.Result != nil {
			details["iterations_used"] = strconv.Itoa(resp.Result.Iterations)
		}
		if resp.Session.LastIssues != nil {
			details["issues"] = strconv.Itoa(*resp.Session.LastIssues)
		}
		s.activityLog.Log("review.completed", "review", "review completed", details)
	}

	if req.NoSession {
		// One-shot review: drop the session immediately so nothing
		// accumulates for roots reviewed without continuity.
		if err := s.store.Clear(resp.Session.Key); err == nil {
			s.broadcaster.Broadcast(Event{
				Type:    "session.cleared",
				TS:      time.Now(),
				Root:    resp.Session.Root,
				Session: resp.Session.Name,
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// archiveReview persists a completed review. Best-effort: failures are
// logged and never surface to the client.
func (s *Server) archiveReview(mode string, resp *session.Response) {
	if s.archive == nil || resp == nil || resp.Result == nil {
		return
	}

	rec := &archive.Record{
		ProjectRoot:  resp.Session.Root,
		SessionName:  resp.Session.Name,
		Iteration:    resp.Session.Iteration,
		Mode:         mode,
		Model:        resp.Session.Model,
		Review:       resp.Result.ReviewContent,
		InputTokens:  resp.Result.TokenDetails.InputTokens,
		OutputTokens: resp.Result.TokenDetails.OutputTokens,
		Iterations:   resp.Result.Iterations,
		Exhausted:    resp.Result.BudgetExhausted,
		Navigation:   navCalls(resp.Result.NavigationHistory),
	}
	if resp.Session.LastIssues != nil {
		rec.Issues = *resp.Session.LastIssues
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.archive.SaveReview(ctx, rec); err != nil {
		if s.errorLog != nil {
			s.errorLog.LogWarn("archive", fmt.Sprintf("save review: %v", err), rec.SessionName)
		}
	}
}

func navCalls(history []review.HistoryEntry) []archive.NavCall {
	if len(history) == 0 {
		return nil
	}
	calls := make([]archive.NavCall, 0, len(history))
	for _, h := range history {
		args := ""
		if len(h.Args) > 0 {
			if data, err := json.Marshal(h.Args); err == nil {
				args = string(data)
			}
		}
		calls = append(calls, archive.NavCall{
			Function: h.Function,
			Args:     args,
			Preview:  h.ResultPreview,
		})
	}
	return calls
}

// handleSessions serves the session collection: GET lists all live
// sessions, DELETE clears them all.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		infos := s.store.List()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessions": infos,
			"count":    len(infos),
		})
	case http.MethodDelete:
		n := s.store.ClearAll()
		s.broadcaster.Broadcast(Event{Type: "session.cleared", TS: time.Now()})
		if s.activityLog != nil {
			s.activityLog.Log("session.cleared", "session", "all sessions cleared", map[string]string{
				"count": strconv.Itoa(n),
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": n})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSession serves one session by name: GET returns its info,
// DELETE clears it. The project root comes in as a query parameter
// because session names are only unique within a root.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusBadRequest, "invalid session name")
		return
	}
	root := r.URL.Query().Get("project_root")
	if root == "" {
		writeError(w, http.StatusBadRequest, "project_root query parameter is required")
		return
	}

	info, ok := s.findSession(root, name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found for %s", name, root))
		return
	}

	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, info)
		return
	}

	if err := s.store.Clear(info.Key); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.broadcaster.Broadcast(Event{
		Type:    "session.cleared",
		TS:      time.Now(),
		Root:    info.Root,
		Session: info.Name,
	})
	if s.activityLog != nil {
		s.activityLog.Log("session.cleared", "session", "session cleared", map[string]string{
			"project_root": info.Root,
			"session":      info.Name,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": info.Name})
}

// findSession matches a live session by name under a project root. The
// root is normalized the same way the store normalizes it so callers
// can pass the path they originally reviewed with.
func (s *Server) findSession(root, name string) (session.Info, bool) {
	resolved := root
	if abs, err := filepath.Abs(resolved); err == nil {
		resolved = abs
	}
	if real, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = real
	}

	for _, info := range s.store.List() {
		if info.Name != name {
			continue
		}
		if info.Root == root || info.Root == resolved {
			return info, true
		}
	}
	return session.Info{}, false
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}

	var entries []ActivityEntry
	if s.activityLog != nil {
		entries = s.activityLog.RecentN(n)
	}
	if entries == nil {
		entries = []ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activity": entries,
		"count":    len(entries),
	})
}

// handlePoll long-polls for daemon events. since is the last sequence
// number the client has seen; the response returns everything newer,
// waiting up to timeout seconds for something to happen.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = parsed
	}

	timeout := 30 * time.Second
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			writeError(w, http.StatusBadRequest, "timeout must be a non-negative integer (seconds)")
			return
		}
		if secs > 60 {
			secs = 60
		}
		timeout = time.Duration(secs) * time.Second
	}

	if events := s.broadcaster.EventsSince(since); len(events) > 0 {
		s.writePollResponse(w, events)
		return
	}
	if timeout == 0 {
		s.writePollResponse(w, nil)
		return
	}

	id, ch := s.broadcaster.Subscribe("")
	defer s.broadcaster.Unsubscribe(id)

	// Re-check after subscribing: an event landing between the first
	// check and the subscription would otherwise be missed until the
	// next one arrives.
	if events := s.broadcaster.EventsSince(since); len(events) > 0 {
		s.writePollResponse(w, events)
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		s.writePollResponse(w, s.broadcaster.EventsSince(since))
	case <-timer.C:
		s.writePollResponse(w, nil)
	case <-r.Context().Done():
	}
}

func (s *Server) writePollResponse(w http.ResponseWriter, events []Event) {
	if events == nil {
		events = []Event{}
	}
	writeJSON(w, http.StatusOK, PollResponse{
		Events:  events,
		LastSeq: s.broadcaster.LastSeq(),
	})
}

// handleShutdown asks the daemon to exit. The response is written
// before the shutdown channel closes so the client sees a clean reply.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
