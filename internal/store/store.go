// Package store manages the embedded SQLite database that is the local source
// of truth for field reports and the reference catalogs they point at.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/njoerd114/fieldsync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS areas (
    id   INTEGER PRIMARY KEY NOT NULL,
    name TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS severities (
    id   INTEGER PRIMARY KEY NOT NULL,
    name TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS statuses (
    id   INTEGER PRIMARY KEY NOT NULL,
    name TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
    local_id           INTEGER PRIMARY KEY AUTOINCREMENT,
    server_id          INTEGER DEFAULT NULL,
    synchronized       INTEGER NOT NULL DEFAULT 0,
    duplicate          INTEGER NOT NULL DEFAULT 0,
    title              TEXT    NOT NULL,
    description        TEXT    NOT NULL DEFAULT '',
    report_date        TEXT    NOT NULL,
    client_uuid        TEXT    NOT NULL UNIQUE,
    created_at         TEXT    NOT NULL,
    updated_at         TEXT    NOT NULL,
    created_by_user_id INTEGER NOT NULL,
    severity_id        INTEGER NOT NULL REFERENCES severities (id),
    area_id            INTEGER NOT NULL REFERENCES areas (id),
    status_id          INTEGER NOT NULL REFERENCES statuses (id)
);

CREATE INDEX IF NOT EXISTS idx_reports_pending ON reports (synchronized, local_id);

CREATE TABLE IF NOT EXISTS media (
    local_media_id  INTEGER PRIMARY KEY AUTOINCREMENT,
    server_media_id INTEGER DEFAULT NULL,
    synchronized    INTEGER NOT NULL DEFAULT 0,
    local_report_id INTEGER NOT NULL REFERENCES reports (local_id) ON DELETE CASCADE,
    media_type      TEXT,
    path            TEXT    NOT NULL
);
`

const dropAll = `
DROP TABLE IF EXISTS media;
DROP TABLE IF EXISTS reports;
DROP TABLE IF EXISTS areas;
DROP TABLE IF EXISTS severities;
DROP TABLE IF EXISTS statuses;
`

var (
	// ErrNotFound is returned when a report lookup matches no row.
	ErrNotFound = errors.New("report not found")

	// ErrNotPending is returned when a reconciliation targets a row that is
	// already synchronized (or no longer exists).
	ErrNotPending = errors.New("report is not pending")

	// ErrDuplicateUUID is returned when an insert reuses an existing client UUID.
	ErrDuplicateUUID = errors.New("client uuid already exists")
)

// Store is the SQLite-backed local report repository.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns the default path for the local database:
// ~/.local/share/fieldsync/fieldsync.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "fieldsync", "fieldsync.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// seeds the catalogs, and configures WAL mode with foreign keys enabled.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// newWithDB wraps an already-open handle without touching the schema.
func newWithDB(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset drops every table and re-creates the schema with fresh catalogs.
// All local reports are lost; intended for development only.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, dropAll); err != nil {
		return fmt.Errorf("dropping tables: %w", err)
	}
	return s.init(ctx)
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	if err := s.seedCatalogs(ctx); err != nil {
		return fmt.Errorf("seeding catalogs: %w", err)
	}
	return nil
}

// seedCatalogs inserts the fixed catalog rows. Existing IDs are left alone.
func (s *Store) seedCatalogs(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	seeds := []struct {
		table   string
		entries []model.CatalogEntry
	}{
		{"areas", model.SeedAreas},
		{"severities", model.SeedSeverities},
		{"statuses", model.SeedStatuses},
	}
	for _, seed := range seeds {
		q := fmt.Sprintf(`INSERT OR IGNORE INTO %s (id, name) VALUES (?, ?)`, seed.table)
		for _, e := range seed.entries {
			if _, err := tx.ExecContext(ctx, q, e.ID, e.Name); err != nil {
				return fmt.Errorf("inserting %s id=%d: %w", seed.table, e.ID, err)
			}
		}
	}
	return tx.Commit()
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scan helpers can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
