// Package testutil provides shared test utilities for reviewer tests.
package testutil

import (
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackyshang/AICodeReviewer/internal/archive"
)

// OpenTestArchive creates a sqlite review archive in a temporary
// directory. The store is automatically closed when the test completes.
func OpenTestArchive(t *testing.T) *archive.SQLiteStore {
	t.Helper()

	store, _ := OpenTestArchiveWithDir(t)
	return store
}

// OpenTestArchiveWithDir creates a sqlite review archive and returns
// both the store and the temporary directory path. Useful when tests
// need to create repos or other files in the same directory. The store
// is automatically closed when the test completes.
func OpenTestArchiveWithDir(t *testing.T) (*archive.SQLiteStore, string) {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := archive.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("Failed to open test archive: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store, tmpDir
}

// AssertStatusCode checks that the response has the expected HTTP status code.
// On failure, it reports the response body for debugging.
func AssertStatusCode(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()

	if w.Code != expected {
		t.Errorf("Expected status %d, got %d: %s", expected, w.Code, w.Body.String())
	}
}

// SaveTestReviews archives count review records for projectRoot. Each
// record gets a distinct session name (session0, session1, ...) and a
// creation time that preserves insertion order. Returns the records in
// insertion order with IDs assigned.
func SaveTestReviews(t *testing.T, store archive.Store, projectRoot string, count int) []archive.Record {
	t.Helper()

	base := time.Now().Add(-time.Duration(count) * time.Minute)
	records := make([]archive.Record, 0, count)

	for i := 0; i < count; i++ {
		rec := archive.Record{
			ProjectRoot: projectRoot,
			SessionName: fmt.Sprintf("session%d", i),
			Iteration:   1,
			Mode:        "critical",
			Model:       "test-model",
			Review:      fmt.Sprintf("Review body %d", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveReview(t.Context(), &rec); err != nil {
			t.Fatalf("SaveReview failed: %v", err)
		}
		records = append(records, rec)
	}

	return records
}

// MockBinaryInPath puts a fake executable named name on PATH, ahead of
// everything else, and returns a cleanup function that restores PATH.
// script is the file content; on non-Windows it should start with a
// shebang.
func MockBinaryInPath(t *testing.T, name, script string) func() {
	t.Helper()

	dir := t.TempDir()
	binName := name
	if runtime.GOOS == "windows" {
		binName += ".bat"
	}
	if err := os.WriteFile(filepath.Join(dir, binName), []byte(script), 0755); err != nil {
		t.Fatalf("write mock binary: %v", err)
	}

	origPath := os.Getenv("PATH")
	os.Setenv("PATH", dir+string(os.PathListSeparator)+origPath)

	return func() {
		os.Setenv("PATH", origPath)
	}
}
