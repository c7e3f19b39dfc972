package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"workshopdl/internal/queue"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one settled download as persisted.
type Entry struct {
	ID             string             `json:"id"`
	ContentScopeID string             `json:"content_scope_id"`
	ItemID         string             `json:"item_id"`
	DisplayName    string             `json:"display_name"`
	Status         queue.Status       `json:"status"`
	Reason         string             `json:"reason,omitempty"`
	Install        queue.InstallState `json:"install,omitempty"`
	InstallDetail  string             `json:"install_detail,omitempty"`
	SubmittedAt    time.Time          `json:"submitted_at"`
	FinishedAt     time.Time          `json:"finished_at"`
}

// Store keeps download history in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS downloads (
  id               TEXT PRIMARY KEY,
  content_scope_id TEXT NOT NULL,
  item_id          TEXT NOT NULL,
  display_name     TEXT NOT NULL,
  status           TEXT NOT NULL,
  reason           TEXT,
  install          TEXT,
  install_detail   TEXT,
  submitted_at     TEXT NOT NULL,
  finished_at      TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS downloads_finished_at_idx ON downloads(finished_at);`,
		`CREATE INDEX IF NOT EXISTS downloads_item_idx ON downloads(content_scope_id, item_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap history: %w", err)
		}
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record upserts a request, keyed by its id.
func (s *Store) Record(ctx context.Context, r queue.Request) error {
	finished := r.UpdatedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO downloads (id, content_scope_id, item_id, display_name, status, reason, install, install_detail, submitted_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  reason = excluded.reason,
  install = excluded.install,
  install_detail = excluded.install_detail,
  finished_at = excluded.finished_at;`,
		r.ID, r.ContentScopeID, r.ItemID, r.DisplayName, string(r.Status), r.Reason,
		string(r.Install), r.InstallDetail,
		r.SubmittedAt.UTC().Format(timeLayout), finished.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record download %s: %w", r.ID, err)
	}
	return nil
}

// List returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, content_scope_id, item_id, display_name, status, reason, install, install_detail, submitted_at, finished_at
FROM downloads ORDER BY finished_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                             Entry
			status, submitted, finishedAt string
			reason, install, detail       sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ContentScopeID, &e.ItemID, &e.DisplayName, &status, &reason, &install, &detail, &submitted, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		e.Status = queue.Status(status)
		e.Install = queue.InstallState(install.String)
		e.Reason = reason.String
		e.InstallDetail = detail.String
		e.SubmittedAt, _ = time.Parse(timeLayout, submitted)
		e.FinishedAt, _ = time.Parse(timeLayout, finishedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate downloads: %w", err)
	}
	return out, nil
}
