package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackyshang/AICodeReviewer/internal/config"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reviews (
  id TEXT PRIMARY KEY,
  project_root TEXT NOT NULL,
  session_name TEXT NOT NULL,
  iteration INTEGER NOT NULL DEFAULT 1,
  mode TEXT NOT NULL DEFAULT 'critical',
  model TEXT NOT NULL,
  review TEXT NOT NULL,
  issues INTEGER NOT NULL DEFAULT 0,
  input_tokens INTEGER NOT NULL DEFAULT 0,
  output_tokens INTEGER NOT NULL DEFAULT 0,
  iterations INTEGER NOT NULL DEFAULT 0,
  exhausted INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS navigation (
  review_id TEXT NOT NULL REFERENCES reviews(id),
  seq INTEGER NOT NULL,
  function TEXT NOT NULL,
  args TEXT NOT NULL DEFAULT '',
  preview TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (review_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_reviews_project ON reviews(project_root);
CREATE INDEX IF NOT EXISTS idx_reviews_session ON reviews(project_root, session_name);
`

// SQLiteStore is the default archive backend.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultDBPath returns the default archive database path
func DefaultDBPath() string {
	return filepath.Join(config.DataDir(), "archive.db")
}

// OpenSQLite opens or creates the archive database at the given path
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode and busy timeout
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db}

	// Initialize schema (CREATE IF NOT EXISTS is idempotent)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	// Run migrations for existing databases
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// migrate adds columns the first archive cut didn't have. Checks are
// idempotent so reopening an up-to-date database is a no-op.
func (s *SQLiteStore) migrate() error {
	for _, col := range []struct {
		name string
		def  string
	}{
		{"mode", "TEXT NOT NULL DEFAULT 'critical'"},
		{"issues", "INTEGER NOT NULL DEFAULT 0"},
		{"exhausted", "INTEGER NOT NULL DEFAULT 0"},
	} {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('reviews') WHERE name = ?`, col.name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check %s column: %w", col.name, err)
		}
		if count == 0 {
			_, err = s.db.Exec(fmt.Sprintf(`ALTER TABLE reviews ADD COLUMN %s %s`, col.name, col.def))
			if err != nil {
				return fmt.Errorf("add %s column: %w", col.name, err)
			}
		}
	}
	return nil
}

func (s *SQLiteStore) SaveReview(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	exhausted := 0
	if rec.Exhausted {
		exhausted = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reviews (id, project_root, session_name, iteration, mode, model,
		                     review, issues, input_tokens, output_tokens, iterations,
		                     exhausted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ProjectRoot, rec.SessionName, rec.Iteration, rec.Mode, rec.Model,
		rec.Review, rec.Issues, rec.InputTokens, rec.OutputTokens, rec.Iterations,
		exhausted, rec.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}

	for i, nc := range rec.Navigation {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO navigation (review_id, seq, function, args, preview)
			VALUES (?, ?, ?, ?, ?)
		`, rec.ID, i, nc.Function, nc.Args, nc.Preview)
		if err != nil {
			return fmt.Errorf("insert navigation call %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListReviews(ctx context.Context, projectRoot string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, project_root, session_name, iteration, mode, model,
		       review, issues, input_tokens, output_tokens, iterations,
		       exhausted, created_at
		FROM reviews
	`
	args := []any{}
	if projectRoot != "" {
		query += ` WHERE project_root = ?`
		args = append(args, projectRoot)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) GetReview(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_root, session_name, iteration, mode, model,
		       review, issues, input_tokens, output_tokens, iterations,
		       exhausted, created_at
		FROM reviews WHERE id = ?
	`, id)
	rec, err := scanReview(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT function, args, preview
		FROM navigation WHERE review_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var nc NavCall
		if err := rows.Scan(&nc.Function, &nc.Args, &nc.Preview); err != nil {
			return nil, err
		}
		rec.Navigation = append(rec.Navigation, nc)
	}
	return rec, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanReview(sc scanner) (*Record, error) {
	var rec Record
	var exhausted int
	var createdAt string
	err := sc.Scan(&rec.ID, &rec.ProjectRoot, &rec.SessionName, &rec.Iteration,
		&rec.Mode, &rec.Model, &rec.Review, &rec.Issues, &rec.InputTokens,
		&rec.OutputTokens, &rec.Iterations, &exhausted, &createdAt)
	if err != nil {
		return nil, err
	}
	rec.Exhausted = exhausted != 0
	rec.CreatedAt = parseSQLiteTime(createdAt)
	return &rec, nil
}

// parseSQLiteTime handles both RFC3339 (what SaveReview writes) and
// SQLite's datetime('now') format (rows predating the Go writer).
func parseSQLiteTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
