// Package store persists jobs across two tiers: a Redis cache for
// low-latency polling reads and a SQLite durable record that is
// authoritative whenever the tiers disagree.
package store

import (
	"context"
	"log"
	"time"

	"github.com/cogniscribe/api/internal/model"
)

// CacheTier is the volatile, TTL-bounded job snapshot store.
type CacheTier interface {
	SaveJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// DurableTier is the authoritative record store.
type DurableTier interface {
	InsertJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	UpdateJob(ctx context.Context, job *model.Job) error
	DeleteJob(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, owner string) ([]*model.Job, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// JobStore is the single consistency contract callers depend on.
type JobStore struct {
	cache   CacheTier
	durable DurableTier
}

// NewJobStore composes the two tiers.
func NewJobStore(cache CacheTier, durable DurableTier) *JobStore {
	return &JobStore{cache: cache, durable: durable}
}

// Create writes through both tiers. The durable write must succeed
// before the job is acknowledged; a cache failure is only logged.
func (s *JobStore) Create(ctx context.Context, job *model.Job) error {
	if err := s.durable.InsertJob(ctx, job); err != nil {
		return err
	}
	if err := s.cache.SaveJob(ctx, job); err != nil {
		log.Printf("cache write failed for job %s: %v", job.ID, err)
	}
	return nil
}

// Get reads the cache first and falls back to the durable tier,
// repopulating the cache on a fallback hit.
func (s *JobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	if job, err := s.cache.GetJob(ctx, id); err == nil {
		return job, nil
	}
	job, err := s.durable.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SaveJob(ctx, job); err != nil {
		log.Printf("cache repopulate failed for job %s: %v", id, err)
	}
	return job, nil
}

// Update writes through both tiers, bumping updated_at.
func (s *JobStore) Update(ctx context.Context, job *model.Job) error {
	job.UpdatedAt = time.Now().UTC()
	if err := s.durable.UpdateJob(ctx, job); err != nil {
		return err
	}
	if err := s.cache.SaveJob(ctx, job); err != nil {
		log.Printf("cache write failed for job %s: %v", job.ID, err)
	}
	return nil
}

// Delete removes the job from both tiers.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	if err := s.durable.DeleteJob(ctx, id); err != nil {
		return err
	}
	if err := s.cache.DeleteJob(ctx, id); err != nil {
		log.Printf("cache delete failed for job %s: %v", id, err)
	}
	return nil
}

// ListByOwner lists the owner's jobs from the durable tier.
func (s *JobStore) ListByOwner(ctx context.Context, owner string) ([]*model.Job, error) {
	return s.durable.ListByOwner(ctx, owner)
}

// CountByStatus aggregates job counts from the durable tier.
func (s *JobStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	return s.durable.CountByStatus(ctx)
}

// MarkCancelled atomically transitions a pending job to cancelled.
// Returns false when the job has already left pending.
func (s *JobStore) MarkCancelled(ctx context.Context, id string) (bool, error) {
	ok, err := s.durable.MarkCancelled(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	// Refresh the cache snapshot from the authoritative record.
	if job, getErr := s.durable.GetJob(ctx, id); getErr == nil {
		if cacheErr := s.cache.SaveJob(ctx, job); cacheErr != nil {
			log.Printf("cache write failed for job %s: %v", id, cacheErr)
		}
	}
	return true, nil
}

// RequestCancel records a cooperative cancellation request. The runner
// consults it between stages.
func (s *JobStore) RequestCancel(ctx context.Context, id string) error {
	return s.durable.RequestCancel(ctx, id)
}

// CancelRequested reports whether cancellation has been requested.
func (s *JobStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	return s.durable.CancelRequested(ctx, id)
}
