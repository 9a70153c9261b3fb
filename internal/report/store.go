// Package report persists the terminal report of finished jobs: the final
// snapshot plus the retained metric history, in a local SQLite database.
// Reports outlive store eviction, so observers that arrive after a job is
// gone can still pull its outcome over the REST surface.
package report

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/traintrack-ai/traintrack-cli/internal/history"
	"github.com/traintrack-ai/traintrack-cli/internal/job"
)

// ErrReportNotFound indicates no report is archived for the job id
var ErrReportNotFound = errors.New("report not found")

const schema = `
CREATE TABLE IF NOT EXISTS job_reports (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id      TEXT NOT NULL UNIQUE,
    kind        TEXT NOT NULL,
    name        TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    created_at  TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    snapshot    TEXT NOT NULL,
    history     TEXT NOT NULL DEFAULT '[]',
    archived_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_job_reports_status ON job_reports(status);
`

// Report is one archived terminal report.
type Report struct {
	ID         int64           `json:"-"`
	JobID      string          `json:"job_id"`
	Kind       job.Kind        `json:"kind"`
	Name       string          `json:"name,omitempty"`
	Status     job.Status      `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Error      string          `json:"error,omitempty"`
	Snapshot   job.Snapshot    `json:"snapshot"`
	History    []history.Entry `json:"history,omitempty"`
}

// Store provides SQLite-backed storage for job reports.
type Store struct {
	db   *sql.DB
	path string
}

// DefaultPath returns the standard report database location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "traintrack-reports.db"
	}
	return filepath.Join(home, ".traintrack", "reports.db")
}

// Open opens (or creates) the report database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create report db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open report db: %w", err)
	}

	// Enable WAL mode so REST reads never block archive writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Archive stores the terminal report of a job. Duplicate job_id inserts are
// silently ignored; a job terminates exactly once.
func (s *Store) Archive(snap job.Snapshot, entries []history.Entry) error {
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	histJSON, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO job_reports (
			job_id, kind, name, status,
			created_at, finished_at, error,
			snapshot, history
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, string(snap.Kind), snap.Name, string(snap.Status),
		snap.CreatedAt.UTC().Format(time.RFC3339), snap.UpdatedAt.UTC().Format(time.RFC3339), snap.Error,
		string(snapJSON), string(histJSON),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// Get returns the archived report for a job.
func (s *Store) Get(jobID string) (*Report, error) {
	row := s.db.QueryRow(`
		SELECT id, job_id, kind, name, status,
		       created_at, finished_at, error,
		       snapshot, history
		FROM job_reports
		WHERE job_id = ?`, jobID)

	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	return r, nil
}

// List returns the most recently finished reports, newest first.
func (s *Store) List(limit int) ([]*Report, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, job_id, kind, name, status,
		       created_at, finished_at, error,
		       snapshot, history
		FROM job_reports
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Count returns the number of archived reports.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM job_reports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	var r Report
	var kind, status, createdAt, finishedAt, snapJSON, histJSON string
	if err := row.Scan(
		&r.ID, &r.JobID, &kind, &r.Name, &status,
		&createdAt, &finishedAt, &r.Error,
		&snapJSON, &histJSON,
	); err != nil {
		return nil, err
	}
	r.Kind = job.Kind(kind)
	r.Status = job.Status(status)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		r.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, finishedAt); err == nil {
		r.FinishedAt = t
	}
	if err := json.Unmarshal([]byte(snapJSON), &r.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(histJSON), &r.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return &r, nil
}
