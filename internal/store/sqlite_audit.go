package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cogniscribe/api/internal/apperr"
	"github.com/cogniscribe/api/internal/model"
)

// AuditRecord is one append-only audit event.
type AuditRecord struct {
	ID        string
	Action    string
	SubjectID string
	Outcome   string
	Detail    string
	CreatedAt time.Time
}

// InsertAudit appends an audit record. Records are never updated or
// deleted individually.
func (s *SQLiteStore) InsertAudit(ctx context.Context, rec *AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, subject_id, outcome, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Action, rec.SubjectID, rec.Outcome, rec.Detail, formatTime(rec.CreatedAt))
	if err != nil {
		return apperr.Storage("audit", err)
	}
	return nil
}

// PurgeAuditBefore bulk-deletes audit records older than the cutoff.
func (s *SQLiteStore) PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_logs WHERE created_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, apperr.Storage("audit", err)
	}
	return res.RowsAffected()
}

// RecordUsage upserts the monthly counters for an owner.
func (s *SQLiteStore) RecordUsage(ctx context.Context, owner string, bytesProcessed int64, processingSeconds float64, success bool) error {
	month := time.Now().UTC().Format("2006-01")
	successInc, failInc, fileInc := 0, 1, 0
	if success {
		successInc, failInc, fileInc = 1, 0, 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_statistics (
			id, owner, month, files_processed, bytes_processed,
			processing_seconds, successful_jobs, failed_jobs, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, month) DO UPDATE SET
			files_processed = files_processed + excluded.files_processed,
			bytes_processed = bytes_processed + excluded.bytes_processed,
			processing_seconds = processing_seconds + excluded.processing_seconds,
			successful_jobs = successful_jobs + excluded.successful_jobs,
			failed_jobs = failed_jobs + excluded.failed_jobs,
			updated_at = excluded.updated_at`,
		uuid.New().String(), owner, month, fileInc, bytesProcessed,
		processingSeconds, successInc, failInc, formatTime(time.Now()))
	if err != nil {
		return apperr.Storage("usage", err)
	}
	return nil
}

// UsageFor returns the owner's counters for the current month.
func (s *SQLiteStore) UsageFor(ctx context.Context, owner string) (*model.UsageStats, error) {
	month := time.Now().UTC().Format("2006-01")
	stats := &model.UsageStats{Owner: owner, Month: month}
	err := s.db.QueryRowContext(ctx, `
		SELECT files_processed, bytes_processed, processing_seconds,
		       successful_jobs, failed_jobs
		FROM usage_statistics WHERE owner = ? AND month = ?`, owner, month).
		Scan(&stats.FilesProcessed, &stats.BytesProcessed, &stats.ProcessingSeconds,
			&stats.SuccessfulJobs, &stats.FailedJobs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stats, nil
		}
		return nil, apperr.Storage("usage", fmt.Errorf("query usage: %w", err))
	}
	return stats, nil
}
