package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackyshang/AICodeReviewer/internal/config"
)

// ErrorEntry represents a single error log entry
type ErrorEntry struct {
	Timestamp time.Time `json:"ts"`
	Level     string    `json:"level"`     // "error", "warn"
	Component string    `json:"component"` // "review", "archive", "server"
	Message   string    `json:"message"`
	Session   string    `json:"session,omitempty"`
}

// MaxErrorLogEntries is the maximum number of error log entries kept in memory
const MaxErrorLogEntries = 100

// ErrorLog records review and server failures to a JSONL file and
// keeps the last MaxErrorLogEntries in memory for the health endpoint.
type ErrorLog struct {
	mu   sync.Mutex
	file *os.File
	path string

	ring []ErrorEntry
	next int
	n    int
}

// NewErrorLog opens the error log at path, creating parent
// directories as needed.
func NewErrorLog(path string) (*ErrorLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &ErrorLog{
		file: file,
		path: path,
		ring: make([]ErrorEntry, MaxErrorLogEntries),
	}, nil
}

// DefaultErrorLogPath returns the default path for the error log
func DefaultErrorLogPath() string {
	return filepath.Join(config.DataDir(), "errors.log")
}

// Log writes an error entry to both file and in-memory buffer
func (e *ErrorLog) Log(level, component, message, session string) {
	entry := ErrorEntry{
		Timestamp: time.Now(),
		Level:     level,
		Component: component,
		Message:   message,
		Session:   session,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.file != nil {
		if data, err := json.Marshal(entry); err == nil {
			_, _ = e.file.Write(append(data, '\n'))
		}
	}

	e.ring[e.next] = entry
	e.next = (e.next + 1) % len(e.ring)
	if e.n < len(e.ring) {
		e.n++
	}
}

// LogError is a convenience method for logging errors
func (e *ErrorLog) LogError(component, message, session string) {
	e.Log("error", component, message, session)
}

// LogWarn is a convenience method for logging warnings
func (e *ErrorLog) LogWarn(component, message, session string) {
	e.Log("warn", component, message, session)
}

// Recent returns every buffered entry, newest first.
func (e *ErrorLog) Recent() []ErrorEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.n == 0 {
		return nil
	}

	out := make([]ErrorEntry, e.n)
	idx := e.next
	for i := range out {
		idx = (idx - 1 + len(e.ring)) % len(e.ring)
		out[i] = e.ring[idx]
	}
	return out
}

// RecentN returns up to n most recent error entries (newest first)
func (e *ErrorLog) RecentN(n int) []ErrorEntry {
	all := e.Recent()
	if len(all) <= n {
		return all
	}
	return all[:n]
}

// Count24h returns the count of errors in the last 24 hours from the
// in-memory buffer. This only counts up to MaxErrorLogEntries; if
// error volume is high the actual 24h count may be higher.
func (e *ErrorLog) Count24h() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := time.Now().Add(-24 * time.Hour)
	count := 0
	idx := e.next
	for i := 0; i < e.n; i++ {
		idx = (idx - 1 + len(e.ring)) % len(e.ring)
		if e.ring[idx].Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

// Close closes the error log file
func (e *ErrorLog) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file = nil
	return err
}
