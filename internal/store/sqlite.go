package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cogniscribe/api/internal/apperr"
	"github.com/cogniscribe/api/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match
// the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const timeLayout = time.RFC3339Nano

// SQLiteStore implements DurableTier plus the audit and usage tables.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite initializes or connects to the durable database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

func marshalOptional(v interface{}) (sql.NullString, error) {
	// Typed nil pointers still marshal to "null"; treat them as absent.
	switch t := v.(type) {
	case *model.PipelineResult:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *model.JobError:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// InsertJob records a newly created job.
func (s *SQLiteStore) InsertJob(ctx context.Context, job *model.Job) error {
	result, err := marshalOptional(job.Result)
	if err != nil {
		return apperr.Storage("create", err)
	}
	jobErr, err := marshalOptional(job.Error)
	if err != nil {
		return apperr.Storage("create", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, owner, filename, size_bytes, fingerprint, ratio, subject,
			artifact_path, status, stage, result, error, cancel_requested,
			created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		job.ID, job.Owner, job.Input.Filename, job.Input.SizeBytes,
		job.Input.Fingerprint, job.Input.Ratio, job.Input.Subject,
		job.ArtifactPath, string(job.Status), string(job.Stage),
		result, jobErr,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt), formatTimePtr(job.CompletedAt),
	)
	if err != nil {
		return apperr.Storage("create", err)
	}
	return nil
}

// GetJob loads the authoritative job record.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, filename, size_bytes, fingerprint, ratio, subject,
		       artifact_path, status, stage, result, error,
		       created_at, updated_at, completed_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job                  model.Job
		status, stage        string
		result, jobErr       sql.NullString
		createdAt, updatedAt string
		completedAt          sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.Owner, &job.Input.Filename, &job.Input.SizeBytes,
		&job.Input.Fingerprint, &job.Input.Ratio, &job.Input.Subject,
		&job.ArtifactPath, &status, &stage, &result, &jobErr,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Storage("get", err)
	}

	job.Status = model.JobStatus(status)
	job.Stage = model.Stage(stage)
	if result.Valid {
		var r model.PipelineResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, apperr.Storage("get", fmt.Errorf("unmarshal result: %w", err))
		}
		job.Result = &r
	}
	if jobErr.Valid {
		var e model.JobError
		if err := json.Unmarshal([]byte(jobErr.String), &e); err != nil {
			return nil, apperr.Storage("get", fmt.Errorf("unmarshal error: %w", err))
		}
		job.Error = &e
	}
	if job.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, apperr.Storage("get", err)
	}
	if job.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, apperr.Storage("get", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(timeLayout, completedAt.String)
		if err != nil {
			return nil, apperr.Storage("get", err)
		}
		job.CompletedAt = &t
	}
	return &job, nil
}

// UpdateJob persists the mutable fields of an existing job. The write
// is checked against the persisted status inside a transaction, so a
// runner holding a stale snapshot can never revive a terminal job.
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.Job) error {
	result, err := marshalOptional(job.Result)
	if err != nil {
		return apperr.Storage("update", err)
	}
	jobErr, err := marshalOptional(job.Error)
	if err != nil {
		return apperr.Storage("update", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage("update", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", job.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return apperr.Storage("update", err)
	}
	from := model.JobStatus(current)
	if from != job.Status && !from.CanTransitionTo(job.Status) {
		if from.IsTerminal() {
			return apperr.ErrAlreadyTerminal
		}
		return apperr.Storage("update", fmt.Errorf("illegal status transition %s -> %s", from, job.Status))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, stage = ?, result = ?, error = ?,
		       artifact_path = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		string(job.Status), string(job.Stage), result, jobErr,
		job.ArtifactPath, formatTime(job.UpdatedAt), formatTimePtr(job.CompletedAt),
		job.ID,
	); err != nil {
		return apperr.Storage("update", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Storage("update", err)
	}
	return nil
}

// DeleteJob removes a job record.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id); err != nil {
		return apperr.Storage("delete", err)
	}
	return nil
}

// ListByOwner returns the owner's jobs, newest first.
func (s *SQLiteStore) ListByOwner(ctx context.Context, owner string) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, filename, size_bytes, fingerprint, ratio, subject,
		       artifact_path, status, stage, result, error,
		       created_at, updated_at, completed_at
		FROM jobs WHERE owner = ? ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, apperr.Storage("list", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountByStatus returns job counts grouped by status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM jobs GROUP BY status")
	if err != nil {
		return nil, apperr.Storage("stats", err)
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperr.Storage("stats", err)
		}
		counts[model.JobStatus(status)] = count
	}
	return counts, rows.Err()
}

// MarkCancelled transitions a pending job to cancelled in one guarded
// update. Returns false when the job has already left pending.
func (s *SQLiteStore) MarkCancelled(ctx context.Context, id string) (bool, error) {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(model.JobStatusCancelled), now, now, id, string(model.JobStatusPending))
	if err != nil {
		return false, apperr.Storage("cancel", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage("cancel", err)
	}
	return affected > 0, nil
}

// RequestCancel flags a job for cooperative cancellation.
func (s *SQLiteStore) RequestCancel(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ?",
		formatTime(time.Now()), id); err != nil {
		return apperr.Storage("cancel", err)
	}
	return nil
}

// CancelRequested reports whether cancellation was requested.
func (s *SQLiteStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested int
	err := s.db.QueryRowContext(ctx,
		"SELECT cancel_requested FROM jobs WHERE id = ?", id).Scan(&requested)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, apperr.ErrNotFound
		}
		return false, apperr.Storage("cancel", err)
	}
	return requested != 0, nil
}

// ExpiredJob identifies a job due for retention deletion along with its
// stored artifact.
type ExpiredJob struct {
	ID           string
	ArtifactPath string
}

// ExpiredJobs finds terminal jobs past their retention window. Failed
// and cancelled jobs expire sooner than completed ones.
func (s *SQLiteStore) ExpiredJobs(ctx context.Context, completedCutoff, failedCutoff time.Time) ([]ExpiredJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, artifact_path FROM jobs
		WHERE (status = ? AND created_at < ?)
		   OR (status IN (?, ?) AND created_at < ?)`,
		string(model.JobStatusCompleted), formatTime(completedCutoff),
		string(model.JobStatusFailed), string(model.JobStatusCancelled), formatTime(failedCutoff))
	if err != nil {
		return nil, apperr.Storage("sweep", err)
	}
	defer rows.Close()

	var expired []ExpiredJob
	for rows.Next() {
		var e ExpiredJob
		if err := rows.Scan(&e.ID, &e.ArtifactPath); err != nil {
			return nil, apperr.Storage("sweep", err)
		}
		expired = append(expired, e)
	}
	return expired, rows.Err()
}
