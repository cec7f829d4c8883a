// Package archive stores investigation reports in a SQLite database so runs
// can be listed and compared later.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/vegasq/deltaaudit/internal/timetravel"
)

// ErrRunNotFound is returned by Rows for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	`CREATE TABLE runs (
		id TEXT PRIMARY KEY,
		table_name TEXT NOT NULL,
		filter TEXT NOT NULL,
		since TEXT NOT NULL,
		until TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX idx_runs_table ON runs(table_name, created_at);
	CREATE TABLE run_rows (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		operation TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (run_id, version)
	);`,
	`ALTER TABLE runs ADD COLUMN row_count INTEGER NOT NULL DEFAULT 0;`,
}

const dateLayout = "2006-01-02"

// Run summarizes one archived report.
type Run struct {
	ID        string    `json:"run_id"`
	Table     string    `json:"table"`
	Filter    string    `json:"filter"`
	Since     string    `json:"since"`
	Until     string    `json:"until"`
	RowCount  int       `json:"versions"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is an open archive database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the source of run creation times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens or creates the archive at path and applies pending migrations.
// ":memory:" opens a private in-memory archive.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	// One connection keeps in-memory databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure archive: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read archive version: %w", err)
	}
	for i := current; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("archive migration %d failed: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("archive migration %d failed: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("archive migration %d failed: %w", i+1, err)
		}
		log.WithField("migration", i+1).Debug("archive migrated")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores report and returns the new run ID.
func (s *Store) Save(ctx context.Context, report *timetravel.Report) (string, error) {
	id := uuid.NewString()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, table_name, filter, since, until, created_at, row_count) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, report.Table, report.Filter,
		report.Since.Format(dateLayout), report.Until.Format(dateLayout),
		s.now().UnixMilli(), len(report.Rows))
	if err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_rows (run_id, version, timestamp, operation, count) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, row := range report.Rows {
		if _, err := stmt.ExecContext(ctx, id, row.Version, row.Timestamp.UnixMilli(), row.Operation, row.Count); err != nil {
			return "", fmt.Errorf("failed to save version %d: %w", row.Version, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}
	return id, nil
}

// ListRuns returns the newest runs first. An empty table lists every table;
// limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, table string, limit int) ([]Run, error) {
	query := `SELECT id, table_name, filter, since, until, row_count, created_at FROM runs`
	var args []interface{}
	if table != "" {
		query += ` WHERE table_name = ?`
		args = append(args, table)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var r Run
		var created int64
		if err := rows.Scan(&r.ID, &r.Table, &r.Filter, &r.Since, &r.Until, &r.RowCount, &created); err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Rows returns the report rows of a run, newest first.
func (s *Store) Rows(ctx context.Context, runID string) ([]timetravel.VersionCount, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT version, timestamp, operation, count FROM run_rows WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]timetravel.VersionCount, 0)
	for rows.Next() {
		var vc timetravel.VersionCount
		var ts int64
		if err := rows.Scan(&vc.Version, &ts, &vc.Operation, &vc.Count); err != nil {
			return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
		}
		vc.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, vc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	timetravel.SortByRecency(out)
	return out, nil
}
