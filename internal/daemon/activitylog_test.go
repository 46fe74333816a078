package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func newTestActivityLog(t *testing.T) (*ActivityLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "activity.log")
	al, err := NewActivityLog(path)
	if err != nil {
		t.Fatalf("NewActivityLog failed: %v", err)
	}
	t.Cleanup(func() { al.Close() })
	return al, path
}

func TestActivityLogWriteAndRecent(t *testing.T) {
	al, path := newTestActivityLog(t)

	al.Log("review.started", "review", "review started", map[string]string{"session": "alpha"})
	al.Log("review.completed", "review", "review completed", map[string]string{"session": "alpha"})
	al.Log("session.cleared", "session", "session cleared", nil)

	recent := al.Recent()
	if len(recent) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(recent))
	}

	// Newest first
	if recent[0].Event != "session.cleared" {
		t.Errorf("Expected newest event session.cleared, got %q", recent[0].Event)
	}
	if recent[2].Event != "review.started" {
		t.Errorf("Expected oldest event review.started, got %q", recent[2].Event)
	}
	if recent[1].Details["session"] != "alpha" {
		t.Errorf("Expected details to round-trip, got %v", recent[1].Details)
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
		var entry ActivityEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Errorf("Line %d is not valid JSON: %v", lines+1, err)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("Expected 3 JSONL lines, got %d", lines)
	}
}

func TestActivityLogRecentN(t *testing.T) {
	al, _ := newTestActivityLog(t)

	for i := 0; i < 5; i++ {
		al.Log("review.started", "review", "entry "+strconv.Itoa(i), nil)
	}

	if got := al.RecentN(2); len(got) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(got))
	} else if got[0].Message != "entry 4" {
		t.Errorf("Expected newest entry first, got %q", got[0].Message)
	}

	if got := al.RecentN(100); len(got) != 5 {
		t.Errorf("Expected all 5 entries, got %d", len(got))
	}
	if got := al.RecentN(0); got != nil {
		t.Errorf("Expected nil for n=0, got %d entries", len(got))
	}
}

func TestActivityLogRingWraps(t *testing.T) {
	al, _ := newTestActivityLog(t)

	total := activityLogCapacity + 10
	for i := 0; i < total; i++ {
		al.Log("review.started", "review", fmt.Sprintf("entry %d", i), nil)
	}

	recent := al.Recent()
	if len(recent) != activityLogCapacity {
		t.Fatalf("Expected ring capped at %d, got %d", activityLogCapacity, len(recent))
	}
	if want := fmt.Sprintf("entry %d", total-1); recent[0].Message != want {
		t.Errorf("Expected newest %q, got %q", want, recent[0].Message)
	}
	if want := fmt.Sprintf("entry %d", total-activityLogCapacity); recent[len(recent)-1].Message != want {
		t.Errorf("Expected oldest retained %q, got %q", want, recent[len(recent)-1].Message)
	}
}

func TestActivityLogCopiesDetails(t *testing.T) {
	al, _ := newTestActivityLog(t)

	details := map[string]string{"session": "alpha"}
	al.Log("review.started", "review", "review started", details)
	details["session"] = "mutated"

	recent := al.Recent()
	if recent[0].Details["session"] != "alpha" {
		t.Errorf("Expected logged details to be isolated from caller mutation, got %q", recent[0].Details["session"])
	}

	// Mutating the returned copy must not corrupt the buffer either
	recent[0].Details["session"] = "mutated-again"
	if again := al.Recent(); again[0].Details["session"] != "alpha" {
		t.Errorf("Expected buffer isolated from returned copy, got %q", again[0].Details["session"])
	}
}

func TestActivityLogTruncatesOversizedOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	if err := os.WriteFile(path, make([]byte, 2048), 0644); err != nil {
		t.Fatal(err)
	}

	al, err := newActivityLogWithConfig(path, 1024, rotateCheckInterval)
	if err != nil {
		t.Fatalf("newActivityLogWithConfig failed: %v", err)
	}
	defer al.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat log: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("Expected oversized log truncated on open, size is %d", info.Size())
	}
}

func TestActivityLogRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")

	// Check size on every write with a tiny cap so rotation triggers fast
	al, err := newActivityLogWithConfig(path, 300, 1)
	if err != nil {
		t.Fatalf("newActivityLogWithConfig failed: %v", err)
	}
	defer al.Close()

	for i := 0; i < 20; i++ {
		al.Log("review.started", "review", fmt.Sprintf("padding message number %d", i), nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat log: %v", err)
	}
	// Rotation resets the file, so it can never grow to 20 entries
	if info.Size() > 1000 {
		t.Errorf("Expected rotation to bound file size, got %d bytes", info.Size())
	}

	// Ring buffer is unaffected by rotation
	if got := al.Recent(); len(got) != 20 {
		t.Errorf("Expected all 20 entries in memory, got %d", len(got))
	}
}
