// Package archive persists completed reviews for later inspection.
// Saving is best-effort: a failed archive write never fails the review
// that produced it. Live session state is never read back from here.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Record is one archived review run.
type Record struct {
	ID           string    `json:"id"`
	ProjectRoot  string    `json:"project_root"`
	SessionName  string    `json:"session_name"`
	Iteration    int       `json:"iteration"`
	Mode         string    `json:"mode"`
	Model        string    `json:"model"`
	Review       string    `json:"review"`
	Issues       int       `json:"issues"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Iterations   int       `json:"iterations"`
	Exhausted    bool      `json:"budget_exhausted"`
	Navigation   []NavCall `json:"navigation,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NavCall is one navigation tool call made during the review.
type NavCall struct {
	Function string `json:"function"`
	Args     string `json:"args"`
	Preview  string `json:"result_preview"`
}

// Store archives reviews. Both backends satisfy it.
type Store interface {
	// SaveReview archives a completed review with its navigation trail.
	// Assigns rec.ID and rec.CreatedAt if unset.
	SaveReview(ctx context.Context, rec *Record) error
	// ListReviews returns recent reviews, newest first, without their
	// navigation trails. An empty projectRoot matches all projects.
	ListReviews(ctx context.Context, projectRoot string, limit int) ([]Record, error)
	// GetReview returns one review including its navigation trail.
	GetReview(ctx context.Context, id string) (*Record, error)
	Close() error
}

// DefaultListLimit caps ListReviews when the caller passes limit <= 0.
const DefaultListLimit = 50

// Open opens the archive backend named in config: "sqlite" (the
// default, stored under the data dir) or "postgres" (dsn required).
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch backend {
	case "", "sqlite":
		return OpenSQLite(DefaultDBPath())
	case "postgres":
		if dsn == "" {
			return nil, errors.New("archive backend postgres requires postgres_dsn")
		}
		return OpenPostgres(ctx, dsn, DefaultPgPoolConfig())
	default:
		return nil, fmt.Errorf("unknown archive backend %q", backend)
	}
}
