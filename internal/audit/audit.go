// Package audit appends structured events for every state-changing
// operation. Recording is fire-and-forget: a full queue or a failed
// write is logged and dropped, never surfaced to the pipeline.
package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cogniscribe/api/internal/store"
)

// Actions recorded by the service.
const (
	ActionSubmit         = "job_submitted"
	ActionStageComplete  = "stage_completed"
	ActionJobComplete    = "job_completed"
	ActionJobFailed      = "job_failed"
	ActionJobCancelled   = "job_cancelled"
	ActionDedupHit       = "dedup_hit"
	ActionRateLimited    = "rate_limited"
	ActionRetentionSweep = "retention_sweep"
)

// Outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Sink is where audit records land. *store.SQLiteStore satisfies it.
type Sink interface {
	InsertAudit(ctx context.Context, rec *store.AuditRecord) error
}

// Recorder buffers events and writes them from a background goroutine.
type Recorder struct {
	sink   Sink
	events chan store.AuditRecord
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a recorder with a bounded queue.
func NewRecorder(sink Sink) *Recorder {
	r := &Recorder{
		sink:   sink,
		events: make(chan store.AuditRecord, 256),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.InsertAudit(ctx, &rec); err != nil {
			log.Printf("audit write failed for %s: %v", rec.Action, err)
		}
		cancel()
	}
}

// Record enqueues an event without blocking. Events are dropped with a
// log line when the queue is full or the recorder is already closed;
// a late event from an in-flight job must never panic the shutdown.
func (r *Recorder) Record(action, subjectID, outcome, detail string) {
	rec := store.AuditRecord{
		Action:    action,
		SubjectID: subjectID,
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		log.Printf("audit recorder closed, dropping %s event for %s", action, subjectID)
		return
	}
	select {
	case r.events <- rec:
	default:
		log.Printf("audit queue full, dropping %s event for %s", action, subjectID)
	}
}

// Close drains the queue and stops the writer. Safe to call more than
// once; Record calls after Close are dropped.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()
	<-r.done
}
