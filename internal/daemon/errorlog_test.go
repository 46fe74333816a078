package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestErrorLog(t *testing.T) (*ErrorLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "errors.log")
	el, err := NewErrorLog(path)
	if err != nil {
		t.Fatalf("NewErrorLog failed: %v", err)
	}
	t.Cleanup(func() { el.Close() })
	return el, path
}

func TestErrorLogWriteAndRecent(t *testing.T) {
	el, path := newTestErrorLog(t)

	el.LogError("review", "provider returned 500", "auth-work")
	el.LogWarn("archive", "save review: disk full", "")
	el.LogError("server", "unexpected panic", "")

	recent := el.Recent()
	if len(recent) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(recent))
	}

	// Newest first
	if recent[0].Message != "unexpected panic" {
		t.Errorf("Expected newest entry first, got %q", recent[0].Message)
	}
	if recent[2].Level != "error" || recent[2].Component != "review" {
		t.Errorf("Expected oldest entry level=error component=review, got %s/%s",
			recent[2].Level, recent[2].Component)
	}
	if recent[2].Session != "auth-work" {
		t.Errorf("Expected session auth-work, got %q", recent[2].Session)
	}
	if recent[1].Level != "warn" {
		t.Errorf("Expected warn level, got %q", recent[1].Level)
	}

	// File holds one JSON object per line
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry ErrorEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Errorf("Line %d is not valid JSON: %v", lines+1, err)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("Expected 3 JSONL lines, got %d", lines)
	}
}

func TestErrorLogSessionOmittedWhenEmpty(t *testing.T) {
	el, path := newTestErrorLog(t)

	el.LogError("server", "no session attached", "")
	el.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data[:len(data)-1], &raw); err != nil {
		t.Fatalf("Failed to parse entry: %v", err)
	}
	if _, ok := raw["session"]; ok {
		t.Error("Expected session field omitted for empty session")
	}
}

func TestErrorLogRingWraps(t *testing.T) {
	el, _ := newTestErrorLog(t)

	total := MaxErrorLogEntries + 5
	for i := 0; i < total; i++ {
		el.LogError("review", fmt.Sprintf("error %d", i), "")
	}

	recent := el.Recent()
	if len(recent) != MaxErrorLogEntries {
		t.Fatalf("Expected ring capped at %d, got %d", MaxErrorLogEntries, len(recent))
	}
	if want := fmt.Sprintf("error %d", total-1); recent[0].Message != want {
		t.Errorf("Expected newest %q, got %q", want, recent[0].Message)
	}
	if want := fmt.Sprintf("error %d", total-MaxErrorLogEntries); recent[len(recent)-1].Message != want {
		t.Errorf("Expected oldest retained %q, got %q", want, recent[len(recent)-1].Message)
	}
}

func TestErrorLogRecentN(t *testing.T) {
	el, _ := newTestErrorLog(t)

	for i := 0; i < 10; i++ {
		el.LogError("review", fmt.Sprintf("error %d", i), "")
	}

	if got := el.RecentN(3); len(got) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(got))
	} else if got[0].Message != "error 9" {
		t.Errorf("Expected newest entry first, got %q", got[0].Message)
	}
	if got := el.RecentN(50); len(got) != 10 {
		t.Errorf("Expected all 10 entries, got %d", len(got))
	}
}

func TestErrorLogCount24h(t *testing.T) {
	el, _ := newTestErrorLog(t)

	el.LogError("review", "recent error", "")
	el.LogWarn("archive", "recent warning", "")
	if got := el.Count24h(); got != 2 {
		t.Errorf("Expected 2 errors in 24h window, got %d", got)
	}

	// Age an entry past the window directly in the buffer
	el.mu.Lock()
	el.ring[0].Timestamp = time.Now().Add(-25 * time.Hour)
	el.mu.Unlock()

	if got := el.Count24h(); got != 1 {
		t.Errorf("Expected 1 error after aging one entry, got %d", got)
	}
}

func TestErrorLogEmptyRecent(t *testing.T) {
	el, _ := newTestErrorLog(t)

	if got := el.Recent(); got != nil {
		t.Errorf("Expected nil for empty log, got %d entries", len(got))
	}
	if got := el.Count24h(); got != 0 {
		t.Errorf("Expected 0 count for empty log, got %d", got)
	}
}
