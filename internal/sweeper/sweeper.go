package sweeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cogniscribe/api/internal/audit"
	"github.com/cogniscribe/api/internal/config"
	"github.com/cogniscribe/api/internal/store"
)

// ExpiryStore is the slice of the durable store the sweeper needs.
type ExpiryStore interface {
	ExpiredJobs(ctx context.Context, completedCutoff, failedCutoff time.Time) ([]store.ExpiredJob, error)
	PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobDeleter removes a job from both storage tiers.
type JobDeleter interface {
	Delete(ctx context.Context, id string) error
}

// ArtifactSweeper deletes stored uploads.
type ArtifactSweeper interface {
	Remove(path string) error
	SweepOlderThan(cutoff time.Time) (int, error)
}

// Auditor records sweep outcomes.
type Auditor interface {
	Record(action, subjectID, outcome, detail string)
}

// Sweeper periodically removes expired jobs, their artifacts, and
// audit records past the retention window.
type Sweeper struct {
	expiry    ExpiryStore
	jobs      JobDeleter
	artifacts ArtifactSweeper
	audit     Auditor
	cfg       config.RetentionConfig

	now func() time.Time
}

// New creates a sweeper. Call Run to start the loop.
func New(expiry ExpiryStore, jobs JobDeleter, artifacts ArtifactSweeper, auditor Auditor, cfg config.RetentionConfig) *Sweeper {
	return &Sweeper{
		expiry:    expiry,
		jobs:      jobs,
		artifacts: artifacts,
		audit:     auditor,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled. One
// sweep runs immediately on startup to clear anything accumulated
// while the service was down.
func (s *Sweeper) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.SweepIntervalMins) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := s.now().UTC()
	completedCutoff := now.Add(-time.Duration(s.cfg.CompletedHours) * time.Hour)
	failedCutoff := now.Add(-time.Duration(s.cfg.FailedHours) * time.Hour)

	expired, err := s.expiry.ExpiredJobs(ctx, completedCutoff, failedCutoff)
	if err != nil {
		log.Printf("Retention sweep: listing expired jobs failed: %v", err)
		return
	}

	removed := 0
	for _, job := range expired {
		if job.ArtifactPath != "" {
			if err := s.artifacts.Remove(job.ArtifactPath); err != nil {
				log.Printf("Retention sweep: removing artifact for job %s failed: %v", job.ID, err)
			}
		}
		if err := s.jobs.Delete(ctx, job.ID); err != nil {
			log.Printf("Retention sweep: deleting job %s failed: %v", job.ID, err)
			continue
		}
		removed++
	}

	// Orphaned uploads whose jobs are already gone age out with the
	// longer of the two job windows.
	orphanCutoff := completedCutoff
	if failedCutoff.Before(orphanCutoff) {
		orphanCutoff = failedCutoff
	}
	orphans, err := s.artifacts.SweepOlderThan(orphanCutoff)
	if err != nil {
		log.Printf("Retention sweep: artifact sweep failed: %v", err)
	}

	auditCutoff := now.AddDate(0, 0, -s.cfg.AuditDays)
	purged, err := s.expiry.PurgeAuditBefore(ctx, auditCutoff)
	if err != nil {
		log.Printf("Retention sweep: audit purge failed: %v", err)
	}

	if removed > 0 || orphans > 0 || purged > 0 {
		s.audit.Record(audit.ActionRetentionSweep, "", audit.OutcomeSuccess,
			fmt.Sprintf("removed %d jobs, %d orphaned artifacts, %d audit records", removed, orphans, purged))
	}
}
