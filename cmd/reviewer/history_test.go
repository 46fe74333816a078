package main

import (
	"strings"
	"testing"

	"github.com/jackyshang/AICodeReviewer/internal/archive"
	"github.com/jackyshang/AICodeReviewer/internal/testutil"
	"github.com/spf13/cobra"
)

func newArchiveCmd(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.SetContext(t.Context())
	return cmd
}

func TestFindReview(t *testing.T) {
	store := testutil.OpenTestArchive(t)
	records := testutil.SaveTestReviews(t, store, "/tmp/project", 3)
	cmd := newArchiveCmd(t)

	t.Run("full ID", func(t *testing.T) {
		rec, err := findReview(cmd, store, records[1].ID)
		if err != nil {
			t.Fatalf("findReview: %v", err)
		}
		if rec.SessionName != "session1" {
			t.Errorf("SessionName = %q, want session1", rec.SessionName)
		}
	})

	t.Run("unique prefix", func(t *testing.T) {
		rec, err := findReview(cmd, store, records[2].ID[:8])
		if err != nil {
			t.Fatalf("findReview by prefix: %v", err)
		}
		if rec.ID != records[2].ID {
			t.Errorf("resolved ID = %q, want %q", rec.ID, records[2].ID)
		}
	})

	t.Run("unknown ID", func(t *testing.T) {
		_, err := findReview(cmd, store, "zzzzzzzz")
		if err == nil || !strings.Contains(err.Error(), "no archived review") {
			t.Errorf("findReview unknown = %v, want no-archived-review error", err)
		}
	})
}

func TestFindReviewAmbiguousPrefix(t *testing.T) {
	store := testutil.OpenTestArchive(t)
	cmd := newArchiveCmd(t)

	// SaveReview keeps caller-assigned IDs, so force a shared prefix.
	for _, id := range []string{"f0f0f0f0-1111", "f0f0f0f0-2222"} {
		rec := archive.Record{
			ID:          id,
			ProjectRoot: "/tmp/project",
			SessionName: "amb",
			Iteration:   1,
			Mode:        "critical",
			Model:       "test-model",
			Review:      "body",
		}
		if err := store.SaveReview(t.Context(), &rec); err != nil {
			t.Fatalf("SaveReview: %v", err)
		}
	}

	if _, err := findReview(cmd, store, "f0f0f0f0"); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("findReview shared prefix = %v, want ambiguous error", err)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9"); got != "0a1b2c3d" {
		t.Errorf("shortID(uuid) = %q, want 0a1b2c3d", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID(short) = %q, want abc", got)
	}
}
