// Package runlog records refresh history in a local SQLite database.
package runlog

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Entry represents one recorded refresh attempt for a dataset.
type Entry struct {
	ID          string     `json:"id"`
	Dataset     string     `json:"dataset"`
	Status      string     `json:"status"`
	Note        string     `json:"note,omitempty"`
	SourceURL   string     `json:"source_url,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Refresh attempt statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Log provides read/write access to the refresh history.
type Log struct {
	db *sql.DB
}

const migration = `
CREATE TABLE IF NOT EXISTS refresh_runs (
	id           TEXT PRIMARY KEY,
	dataset      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	note         TEXT,
	source_url   TEXT,
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_refresh_runs_dataset ON refresh_runs(dataset);
CREATE INDEX IF NOT EXISTS idx_refresh_runs_started_at ON refresh_runs(started_at);
`

// Open opens (or creates) the run log database at the given path and
// applies migrations.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "runlog: exec %s", pragma)
		}
	}
	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "runlog: migrate")
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Start records the beginning of a refresh attempt and returns its ID.
func (l *Log) Start(ctx context.Context, dataset string) (string, error) {
	id := uuid.New().String()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO refresh_runs (id, dataset, status, started_at) VALUES (?, ?, ?, ?)`,
		id, dataset, StatusRunning, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "runlog: start run for %s", dataset)
	}
	return id, nil
}

// Complete marks a refresh attempt as successful.
func (l *Log) Complete(ctx context.Context, id, note, sourceURL string) error {
	return l.finish(ctx, id, StatusComplete, note, sourceURL)
}

// Fail marks a refresh attempt as failed.
func (l *Log) Fail(ctx context.Context, id, note, sourceURL string) error {
	return l.finish(ctx, id, StatusFailed, note, sourceURL)
}

func (l *Log) finish(ctx context.Context, id, status, note, sourceURL string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE refresh_runs SET status = ?, note = ?, source_url = ?, completed_at = ? WHERE id = ?`,
		status, note, sourceURL, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: finish run %s", id)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return eris.Errorf("runlog: run %s not found", id)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, dataset, status, COALESCE(note, ''), COALESCE(source_url, ''), started_at, completed_at
		 FROM refresh_runs ORDER BY started_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	defer rows.Close() //nolint:errcheck

	var entries []Entry
	for rows.Next() {
		var e Entry
		var completed sql.NullTime
		if err := rows.Scan(&e.ID, &e.Dataset, &e.Status, &e.Note, &e.SourceURL, &e.StartedAt, &completed); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		if completed.Valid {
			t := completed.Time
			e.CompletedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
