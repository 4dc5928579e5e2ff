// Package jobstore keeps the status and event history of ranking jobs in
// SQLite.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kostaslazaros/cpgenius/internal/progress"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("job not found")

// fixed width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id      TEXT PRIMARY KEY,
	phase       TEXT NOT NULL,
	progress    INTEGER NOT NULL,
	status      TEXT NOT NULL,
	severity    TEXT NOT NULL,
	warning     TEXT,
	error_kind  TEXT,
	attrs_json  TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS job_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      TEXT NOT NULL,
	phase       TEXT NOT NULL,
	progress    INTEGER NOT NULL,
	status      TEXT NOT NULL,
	severity    TEXT NOT NULL,
	warning     TEXT,
	error_kind  TEXT,
	created_at  TEXT NOT NULL,
	FOREIGN KEY (job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS job_events_job ON job_events(job_id, id);
`

// #endregion schema

// #region store-struct

// Job is the latest recorded state of a job.
type Job struct {
	ID        string
	Phase     string
	Progress  int
	Status    string
	Severity  progress.Severity
	Warning   string
	ErrorKind string
	Attrs     map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store manages job rows in SQLite. It implements progress.Sink.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// pragmas are per connection; one connection also serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion constructor

// #region notify

// Notify upserts the job row from ev and appends ev to the job's event log.
// Attributes are merged into those already recorded; a warning once set
// stays set.
func (s *Store) Notify(ctx context.Context, ev progress.Event) error {
	if ev.JobID == "" {
		return errors.New("record event: empty job id")
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	stamp := at.UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	attrs := map[string]string{}
	var prev sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT attrs_json FROM jobs WHERE job_id = ?`, ev.JobID).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read attrs %s: %w", ev.JobID, err)
	}
	if prev.Valid {
		if err := json.Unmarshal([]byte(prev.String), &attrs); err != nil {
			return fmt.Errorf("unmarshal attrs %s: %w", ev.JobID, err)
		}
	}
	for k, v := range ev.Attrs {
		attrs[k] = v
	}
	var attrsJSON any
	if len(attrs) > 0 {
		b, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("marshal attrs: %w", err)
		}
		attrsJSON = string(b)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (job_id, phase, progress, status, severity, warning, error_kind, attrs_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
			phase = excluded.phase,
			progress = excluded.progress,
			status = excluded.status,
			severity = excluded.severity,
			warning = COALESCE(excluded.warning, jobs.warning),
			error_kind = COALESCE(excluded.error_kind, jobs.error_kind),
			attrs_json = excluded.attrs_json,
			updated_at = excluded.updated_at`,
		ev.JobID, ev.Phase, ev.Percent, ev.Status, string(ev.Severity),
		nullIfEmpty(ev.Warning), nullIfEmpty(ev.ErrorKind), attrsJSON, stamp, stamp,
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", ev.JobID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_events (job_id, phase, progress, status, severity, warning, error_kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.JobID, ev.Phase, ev.Percent, ev.Status, string(ev.Severity),
		nullIfEmpty(ev.Warning), nullIfEmpty(ev.ErrorKind), stamp,
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.JobID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion notify

// #region queries

const jobColumns = `job_id, phase, progress, status, severity, warning, error_kind, attrs_json, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var j Job
	var severity string
	var warning, errorKind, attrsJSON sql.NullString
	var created, updated string
	if err := row.Scan(&j.ID, &j.Phase, &j.Progress, &j.Status, &severity, &warning, &errorKind, &attrsJSON, &created, &updated); err != nil {
		return Job{}, err
	}
	j.Severity = progress.Severity(severity)
	j.Warning = warning.String
	j.ErrorKind = errorKind.String
	if attrsJSON.Valid {
		if err := json.Unmarshal([]byte(attrsJSON.String), &j.Attrs); err != nil {
			return Job{}, fmt.Errorf("unmarshal attrs: %w", err)
		}
	}
	j.CreatedAt, _ = time.Parse(timeLayout, created)
	j.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return j, nil
}

// Get returns the latest state of one job.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("get job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// List returns up to limit jobs, most recently updated first. A phase
// filters the result when non-empty.
func (s *Store) List(ctx context.Context, phase string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if phase != "" {
		q += ` WHERE phase = ?`
		args = append(args, phase)
	}
	q += ` ORDER BY updated_at DESC, job_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Events returns the event log of a job in the order it was recorded.
func (s *Store) Events(ctx context.Context, id string) ([]progress.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phase, progress, status, severity, warning, error_kind, created_at
		 FROM job_events WHERE job_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("events %s: %w", id, err)
	}
	defer rows.Close()

	var out []progress.Event
	for rows.Next() {
		ev := progress.Event{JobID: id}
		var severity, created string
		var warning, errorKind sql.NullString
		if err := rows.Scan(&ev.Phase, &ev.Percent, &ev.Status, &severity, &warning, &errorKind, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Severity = progress.Severity(severity)
		ev.Warning = warning.String
		ev.ErrorKind = errorKind.String
		ev.At, _ = time.Parse(timeLayout, created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteBefore removes jobs, and their events, last updated before cutoff.
// It returns the number of jobs removed.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE updated_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	return res.RowsAffected()
}

// #endregion queries

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
