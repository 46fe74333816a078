package daemon

import (
	"encoding/json"
	"log"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackyshang/AICodeReviewer/internal/config"
)

// ActivityEntry represents a single activity log entry
type ActivityEntry struct {
	Timestamp time.Time         `json:"ts"`
	Event     string            `json:"event"`
	Component string            `json:"component"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

const activityLogCapacity = 500

// maxActivityLogSize is the threshold at which the log file is
// truncated on open. 5MB is generous for structured JSONL entries
// (~200 bytes each) and covers months of typical daemon activity.
const maxActivityLogSize = 5 * 1024 * 1024

// rotateCheckInterval is how often (in writes) the file size is
// checked against the cap.
const rotateCheckInterval = 1000

// ActivityLog records daemon activity (reviews started and finished,
// sessions cleared, config reloads) to a JSONL file and keeps the last
// activityLogCapacity entries in memory for the activity endpoint.
type ActivityLog struct {
	mu   sync.Mutex
	file *os.File
	path string

	// ring holds the most recent entries; once full, next points at
	// the slot holding the oldest one.
	ring []ActivityEntry
	next int
	n    int

	maxSize    int64
	checkEvery int
	sinceCheck int
}

// NewActivityLog opens the activity log at path, creating parent
// directories as needed. An existing file over maxActivityLogSize is
// dropped rather than appended to.
func NewActivityLog(path string) (*ActivityLog, error) {
	return newActivityLogWithConfig(path, maxActivityLogSize, rotateCheckInterval)
}

func newActivityLogWithConfig(path string, maxSize int64, checkEvery int) (*ActivityLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	if info, err := os.Stat(path); err == nil && info.Size() > maxSize {
		if err := os.Remove(path); err != nil {
			log.Printf("Activity log: failed to truncate %s: %v", path, err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &ActivityLog{
		file:       file,
		path:       path,
		ring:       make([]ActivityEntry, activityLogCapacity),
		maxSize:    maxSize,
		checkEvery: checkEvery,
	}, nil
}

// DefaultActivityLogPath returns the default path for the activity log
func DefaultActivityLogPath() string {
	return filepath.Join(config.DataDir(), "activity.log")
}

// Log appends an entry to the file and the in-memory ring. The details
// map is copied; callers may mutate it afterwards.
func (a *ActivityLog) Log(event, component, message string, details map[string]string) {
	entry := ActivityEntry{
		Timestamp: time.Now(),
		Event:     event,
		Component: component,
		Message:   message,
		Details:   copyDetails(details),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file != nil {
		if data, err := json.Marshal(entry); err == nil {
			_, _ = a.file.Write(append(data, '\n'))
		}
		a.maybeRotate()
	}

	a.ring[a.next] = entry
	a.next = (a.next + 1) % len(a.ring)
	if a.n < len(a.ring) {
		a.n++
	}
}

// Recent returns every buffered entry, newest first.
func (a *ActivityLog) Recent() []ActivityEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.n == 0 {
		return nil
	}

	out := make([]ActivityEntry, a.n)
	idx := a.next
	for i := range out {
		idx = (idx - 1 + len(a.ring)) % len(a.ring)
		e := a.ring[idx]
		e.Details = copyDetails(e.Details)
		out[i] = e
	}
	return out
}

// RecentN returns up to n most recent entries (newest first)
func (a *ActivityLog) RecentN(n int) []ActivityEntry {
	if n <= 0 {
		return nil
	}
	all := a.Recent()
	if len(all) <= n {
		return all
	}
	return all[:n]
}

// Close closes the activity log file
func (a *ActivityLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// maybeRotate stats the file every checkEvery writes and starts it
// over once it exceeds maxSize. Must be called with a.mu held. The
// file is closed and reopened because Windows refuses Truncate on an
// O_APPEND handle.
func (a *ActivityLog) maybeRotate() {
	a.sinceCheck++
	if a.sinceCheck < a.checkEvery {
		return
	}
	a.sinceCheck = 0

	info, err := a.file.Stat()
	if err != nil || info.Size() <= a.maxSize {
		return
	}

	a.file.Close()
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("Activity log: rotate reopen failed, retrying append: %v", err)
		// Fall back to append mode so logging isn't permanently disabled
		f, err = os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("Activity log: fallback reopen also failed: %v", err)
			a.file = nil
			return
		}
	}
	a.file = f
}

// copyDetails returns a shallow copy of a string map.
// Returns nil for nil input.
func copyDetails(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	maps.Copy(cp, m)
	return cp
}
