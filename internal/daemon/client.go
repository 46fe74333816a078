package daemon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jackyshang/AICodeReviewer/internal/session"
)

// Client provides an interface for interacting with the review daemon.
// This abstraction allows for easy mocking in tests.
type Client interface {
	// Health fetches daemon status and the live session list
	Health() (*HealthResponse, error)

	// Review runs a review and blocks until the result is ready
	Review(req ReviewRequest) (*session.Response, error)

	// Sessions lists all live sessions
	Sessions() ([]session.Info, error)

	// Session fetches one session by project root and name.
	// Returns (nil, nil) when no such session exists.
	Session(projectRoot, name string) (*session.Info, error)

	// ClearSession removes one session
	ClearSession(projectRoot, name string) error

	// ClearAllSessions removes every session and returns the count
	ClearAllSessions() (int, error)

	// Activity fetches up to n recent activity entries (newest first)
	Activity(n int) ([]ActivityEntry, error)

	// Poll long-polls for events after the given sequence number.
	// Returns the events and the sequence number to resume from.
	Poll(since uint64, timeout time.Duration) ([]Event, uint64, error)

	// Shutdown asks the daemon to exit gracefully
	Shutdown() error
}

// HTTPClient is the default HTTP-based implementation of Client
type HTTPClient struct {
	addr       string
	httpClient *http.Client // short-deadline control calls
	longClient *http.Client // review and poll, which block for their duration
}

// NewHTTPClient creates a new HTTP daemon client. addr includes the
// scheme, e.g. "http://127.0.0.1:8765".
func NewHTTPClient(addr string) *HTTPClient {
	return &HTTPClient{
		addr:       addr,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		longClient: &http.Client{},
	}
}

// NewClientFromRuntime creates an HTTP client using daemon runtime info.
// Retries briefly so a daemon that was just spawned has time to write
// its runtime file.
func NewClientFromRuntime() (*HTTPClient, error) {
	var lastErr error
	for i := 0; i < 5; i++ {
		info, err := FindRuntime()
		if err == nil {
			return NewHTTPClient(fmt.Sprintf("http://%s", info.Addr)), nil
		}
		lastErr = err
		time.Sleep(100 * time.Millisecond)
	}
	return nil, fmt.Errorf("daemon not running: %w", lastErr)
}

// decodeError turns a non-OK response into an error, preferring the
// server's JSON error message over the raw status line.
func decodeError(resp *http.Response, op string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		return fmt.Errorf("%s: %s", op, er.Error)
	}
	return fmt.Errorf("%s: server returned %s", op, resp.Status)
}

func (c *HTTPClient) Health() (*HealthResponse, error) {
	resp, err := c.httpClient.Get(c.addr + "/api/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp, "health")
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}

func (c *HTTPClient) Review(req ReviewRequest) (*session.Response, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	// Reviews run for minutes; the server enforces its own timeout.
	resp, err := c.longClient.Post(c.addr+"/api/review", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp, "review")
	}

	var result session.Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) Sessions() ([]session.Info, error) {
	resp, err := c.httpClient.Get(c.addr + "/api/sessions")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp, "list sessions")
	}

	var result struct {
		Sessions []session.Info `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

func (c *HTTPClient) Session(projectRoot, name string) (*session.Info, error) {
	resp, err := c.httpClient.Get(c.sessionURL(projectRoot, name))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp, "get session")
	}

	var info session.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *HTTPClient) ClearSession(projectRoot, name string) error {
	req, err := http.NewRequest(http.MethodDelete, c.sessionURL(projectRoot, name), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp, "clear session")
	}
	return nil
}

func (c *HTTPClient) ClearAllSessions() (int, error) {
	req, err := http.NewRequest(http.MethodDelete, c.addr+"/api/sessions", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp, "clear sessions")
	}

	var result struct {
		Cleared int `json:"cleared"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}
	return result.Cleared, nil
}

func (c *HTTPClient) Activity(n int) ([]ActivityEntry, error) {
	u := fmt.Sprintf("%s/api/activity?n=%d", c.addr, n)
	resp, err := c.httpClient.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp, "activity")
	}

	var result struct {
		Activity []ActivityEntry `json:"activity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Activity, nil
}

func (c *HTTPClient) Poll(since uint64, timeout time.Duration) ([]Event, uint64, error) {
	u := fmt.Sprintf("%s/api/poll?since=%d&timeout=%d", c.addr, since, int(timeout/time.Second))
	resp, err := c.longClient.Get(u)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, decodeError(resp, "poll")
	}

	var result PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, 0, err
	}
	return result.Events, result.LastSeq, nil
}

func (c *HTTPClient) Shutdown() error {
	resp, err := c.httpClient.Post(c.addr+"/api/shutdown", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp, "shutdown")
	}
	return nil
}

func (c *HTTPClient) sessionURL(projectRoot, name string) string {
	return fmt.Sprintf("%s/api/sessions/%s?project_root=%s",
		c.addr, url.PathEscape(name), url.QueryEscape(projectRoot))
}
