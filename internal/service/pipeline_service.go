package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/cogniscribe/api/internal/apperr"
	"github.com/cogniscribe/api/internal/audit"
	"github.com/cogniscribe/api/internal/client"
	"github.com/cogniscribe/api/internal/model"
	"github.com/cogniscribe/api/internal/retry"
	"github.com/cogniscribe/api/internal/storage"
)

const TaskTypePipeline = "pipeline:process"

// JobStore is what the orchestrator needs from the dual-tier store.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	Update(ctx context.Context, job *model.Job) error
	ListByOwner(ctx context.Context, owner string) ([]*model.Job, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// DedupCache is the fingerprint-to-result cache.
type DedupCache interface {
	Lookup(ctx context.Context, fingerprint string) (*model.PipelineResult, bool)
	Store(ctx context.Context, fingerprint string, result *model.PipelineResult) error
	Reserve(ctx context.Context, fingerprint, jobID string) (existingJobID string, reserved bool)
	Release(ctx context.Context, fingerprint string)
	Stats(ctx context.Context) (hits, misses int64)
}

// Enqueuer schedules background execution. *asynq.Client satisfies it.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Auditor records fire-and-forget audit events.
type Auditor interface {
	Record(action, subjectID, outcome, detail string)
}

// UsageRecorder tracks per-owner monthly usage.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, owner string, bytesProcessed int64, processingSeconds float64, success bool) error
	UsageFor(ctx context.Context, owner string) (*model.UsageStats, error)
}

// Notifier pushes progress to WebSocket subscribers.
type Notifier interface {
	BroadcastProgress(jobID string, status model.JobStatus, stage model.Stage)
	BroadcastComplete(jobID string)
	BroadcastError(jobID string, jobErr *model.JobError)
}

// AdmissionInfo exposes the limiter's configuration for /stats.
type AdmissionInfo interface {
	Limit() int
	Window() time.Duration
	Utilization(ctx context.Context, clientID string) (used, remaining int)
}

// PipelineService owns the job state machine: it creates jobs, drives
// them through the stage sequence, and answers the polling read path.
type PipelineService struct {
	store        JobStore
	dedup        DedupCache
	enqueuer     Enqueuer
	audit        Auditor
	usage        UsageRecorder
	notifier     Notifier
	admission    AdmissionInfo
	artifacts    storage.ArtifactStore
	preprocessor client.AudioPreprocessor
	transcriber  client.Transcriber
	summarizer   client.Summarizer
	retryCfg     retry.Config
	denoise      bool
}

// Deps bundles the orchestrator's collaborators for construction.
type Deps struct {
	Store        JobStore
	Dedup        DedupCache
	Enqueuer     Enqueuer
	Audit        Auditor
	Usage        UsageRecorder
	Notifier     Notifier
	Admission    AdmissionInfo
	Artifacts    storage.ArtifactStore
	Preprocessor client.AudioPreprocessor
	Transcriber  client.Transcriber
	Summarizer   client.Summarizer
	RetryCfg     retry.Config
	Denoise      bool
}

// NewPipelineService wires the orchestrator. All collaborators are
// injected; the service keeps no global state.
func NewPipelineService(deps Deps) *PipelineService {
	return &PipelineService{
		store:        deps.Store,
		dedup:        deps.Dedup,
		enqueuer:     deps.Enqueuer,
		audit:        deps.Audit,
		usage:        deps.Usage,
		notifier:     deps.Notifier,
		admission:    deps.Admission,
		artifacts:    deps.Artifacts,
		preprocessor: deps.Preprocessor,
		transcriber:  deps.Transcriber,
		summarizer:   deps.Summarizer,
		retryCfg:     deps.RetryCfg,
		denoise:      deps.Denoise,
	}
}

// SubmitOutcome is either an accepted async job or an immediately
// available result (dedup hit or synchronous completion).
type SubmitOutcome struct {
	Accepted  *model.SubmitAccepted
	Completed *model.SubmitCompleted
}

type taskPayload struct {
	JobID string `json:"jobId"`
}

// Submit runs the admission-side of the pipeline: dedup lookup,
// in-flight reservation, job creation, and scheduling. The admission
// limiter has already run in middleware by the time Submit is called.
func (s *PipelineService) Submit(ctx context.Context, owner string, art *storage.SavedArtifact, req *model.SubmitRequest) (*SubmitOutcome, error) {
	// Dedup hit: no job is created, the cached result is returned as-is.
	if result, ok := s.dedup.Lookup(ctx, art.Fingerprint); ok {
		s.audit.Record(audit.ActionDedupHit, art.Fingerprint, audit.OutcomeSuccess,
			fmt.Sprintf("served cached result for %s", art.Fingerprint[:16]))
		if err := s.artifacts.Remove(art.Path); err != nil {
			log.Printf("failed to remove duplicate upload %s: %v", art.Path, err)
		}
		return &SubmitOutcome{Completed: &model.SubmitCompleted{
			Status: model.JobStatusCompleted,
			Cached: true,
			Result: result,
		}}, nil
	}

	jobID := uuid.New().String()

	// Serialize identical in-flight fingerprints: a concurrent duplicate
	// joins the job already computing this content instead of paying the
	// full pipeline cost again.
	if existingID, reserved := s.dedup.Reserve(ctx, art.Fingerprint, jobID); !reserved {
		if existing, err := s.store.Get(ctx, existingID); err == nil {
			if err := s.artifacts.Remove(art.Path); err != nil {
				log.Printf("failed to remove duplicate upload %s: %v", art.Path, err)
			}
			return &SubmitOutcome{Accepted: &model.SubmitAccepted{
				ID:        existing.ID,
				Status:    existing.Status,
				CreatedAt: existing.CreatedAt,
			}}, nil
		}
		// Stale reservation with no job behind it; proceed independently.
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:    jobID,
		Owner: owner,
		Input: model.InputDescriptor{
			Filename:    art.Filename,
			SizeBytes:   art.SizeBytes,
			Fingerprint: art.Fingerprint,
			Ratio:       req.Ratio,
			Subject:     req.Subject,
		},
		Status:       model.JobStatusPending,
		ArtifactPath: art.Path,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// The durable write must succeed before the job is acknowledged.
	if err := s.store.Create(ctx, job); err != nil {
		s.dedup.Release(ctx, art.Fingerprint)
		return nil, err
	}

	s.audit.Record(audit.ActionSubmit, job.ID, audit.OutcomeSuccess,
		fmt.Sprintf("submitted %s (%d bytes, ratio=%.2f)", job.Input.Filename, job.Input.SizeBytes, job.Input.Ratio))

	async := req.Async == nil || *req.Async
	if async {
		if err := s.enqueue(job.ID); err != nil {
			s.failJob(ctx, job, model.StagePreprocess, model.ErrCodeInternal,
				fmt.Sprintf("failed to schedule job: %v", err))
			return nil, fmt.Errorf("failed to enqueue job: %w", err)
		}
		return &SubmitOutcome{Accepted: &model.SubmitAccepted{
			ID:        job.ID,
			Status:    job.Status,
			CreatedAt: job.CreatedAt,
		}}, nil
	}

	// Synchronous compatibility mode: run the stage sequence inline.
	if err := s.Execute(ctx, job.ID); err != nil {
		return nil, err
	}
	finished, err := s.store.Get(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return &SubmitOutcome{Completed: &model.SubmitCompleted{
		ID:     finished.ID,
		Status: finished.Status,
		Result: finished.Result,
		Error:  finished.Error,
	}}, nil
}

func (s *PipelineService) enqueue(jobID string) error {
	data, err := json.Marshal(taskPayload{JobID: jobID})
	if err != nil {
		return err
	}
	// Stage retries are owned by the state machine; asynq must not
	// re-run a job that already reached a terminal state.
	_, err = s.enqueuer.Enqueue(asynq.NewTask(TaskTypePipeline, data),
		asynq.Queue("pipeline"),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	return err
}

// ParseTaskPayload extracts the job id from an asynq task payload.
func ParseTaskPayload(data []byte) (string, error) {
	var p taskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	return p.JobID, nil
}

// Status answers the polling read path from the latest persisted
// snapshot; it never blocks on in-progress stage execution.
func (s *PipelineService) Status(ctx context.Context, id string) (*model.StatusResponse, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.StatusResponse{
		ID:          job.ID,
		Status:      job.Status,
		Stage:       job.Stage,
		Result:      job.Result,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// List returns the caller's jobs, newest first.
func (s *PipelineService) List(ctx context.Context, owner string) (*model.ListResponse, error) {
	jobs, err := s.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	summaries := make([]model.JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, model.JobSummary{
			ID:          job.ID,
			Filename:    job.Input.Filename,
			Status:      job.Status,
			Stage:       job.Stage,
			CreatedAt:   job.CreatedAt,
			CompletedAt: job.CompletedAt,
		})
	}
	return &model.ListResponse{Jobs: summaries}, nil
}

// Cancel requests cooperative cancellation. A pending job is cancelled
// immediately; a processing job finishes its in-flight stage first.
func (s *PipelineService) Cancel(ctx context.Context, id string) (*model.CancelResponse, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, apperr.ErrAlreadyTerminal
	}

	if job.Status == model.JobStatusPending {
		cancelled, err := s.store.MarkCancelled(ctx, id)
		if err != nil {
			return nil, err
		}
		if cancelled {
			s.dedup.Release(ctx, job.Input.Fingerprint)
			s.audit.Record(audit.ActionJobCancelled, id, audit.OutcomeSuccess, "cancelled before execution")
			s.notifier.BroadcastProgress(id, model.JobStatusCancelled, "")
			return &model.CancelResponse{ID: id, Status: model.JobStatusCancelled}, nil
		}
		// Lost the race with the runner; fall through to a cooperative request.
	}

	if err := s.store.RequestCancel(ctx, id); err != nil {
		return nil, err
	}
	s.audit.Record(audit.ActionJobCancelled, id, audit.OutcomeSuccess, "cancellation requested")
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.CancelResponse{ID: id, Status: current.Status}, nil
}

// Stats aggregates job counts, dedup effectiveness, the caller's
// admission-window utilization, and their current-month usage totals.
func (s *PipelineService) Stats(ctx context.Context, clientID string) (*model.StatsResponse, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	for _, status := range model.AllStatuses {
		if _, ok := counts[status]; !ok {
			counts[status] = 0
		}
	}

	hits, misses := s.dedup.Stats(ctx)
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	usage, err := s.usage.UsageFor(ctx, clientID)
	if err != nil {
		return nil, err
	}

	used, remaining := s.admission.Utilization(ctx, clientID)
	return &model.StatsResponse{
		Jobs: counts,
		Dedup: model.DedupStats{
			Hits:    hits,
			Misses:  misses,
			HitRate: hitRate,
		},
		Admission: model.AdmissionStats{
			Limit:         s.admission.Limit(),
			WindowSeconds: int(s.admission.Window().Seconds()),
			Used:          used,
			Remaining:     remaining,
		},
		Usage: *usage,
	}, nil
}

var errCancelled = errors.New("job cancelled")

// Execute drives a job through the stage sequence. It is invoked by the
// asynq worker for async submissions and inline for synchronous ones.
// Stage failures are absorbed into the job record; only storage
// failures propagate.
func (s *PipelineService) Execute(ctx context.Context, jobID string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusPending {
		// Already cancelled or picked up elsewhere; nothing to run.
		return nil
	}
	if cancelled, err := s.checkCancel(ctx, job); err != nil || cancelled {
		return err
	}

	started := time.Now()
	job.Status = model.JobStatusProcessing
	job.Stage = model.StagePreprocess
	if err := s.store.Update(ctx, job); err != nil {
		if errors.Is(err, apperr.ErrAlreadyTerminal) {
			// A cancel won the race between the snapshot read and the
			// status write; the job stays cancelled.
			return nil
		}
		return err
	}
	s.notifier.BroadcastProgress(job.ID, job.Status, job.Stage)

	// Stage 1: preprocess
	pre, err := retry.Do(ctx, s.retryCfg, "preprocess", func(ctx context.Context) (*client.PreprocessResponse, error) {
		return s.preprocessor.Preprocess(ctx, &client.PreprocessRequest{
			InputPath: job.ArtifactPath,
			Denoise:   s.denoise,
		})
	})
	if err != nil {
		return s.stageFailed(ctx, job, model.StagePreprocess, err)
	}
	if err := s.advanceStage(ctx, job, model.StageTranscribe); err != nil {
		s.removeTemp(pre.OutputPath)
		return err
	}
	if cancelled, err := s.checkCancel(ctx, job); err != nil || cancelled {
		s.removeTemp(pre.OutputPath)
		return err
	}

	// Stage 2: transcribe
	transcript, err := retry.Do(ctx, s.retryCfg, "transcribe", func(ctx context.Context) (*client.TranscribeResponse, error) {
		return s.transcriber.Transcribe(ctx, &client.TranscribeRequest{AudioPath: pre.OutputPath})
	})
	if err != nil {
		s.removeTemp(pre.OutputPath)
		return s.stageFailed(ctx, job, model.StageTranscribe, err)
	}
	s.removeTemp(pre.OutputPath)
	if err := s.advanceStage(ctx, job, model.StageSummarize); err != nil {
		return err
	}
	if cancelled, err := s.checkCancel(ctx, job); err != nil || cancelled {
		return err
	}

	// Stage 3: summarize
	summary, err := retry.Do(ctx, s.retryCfg, "summarize", func(ctx context.Context) (*client.SummarizeResponse, error) {
		return s.summarizer.Summarize(ctx, &client.SummarizeRequest{
			Transcript: transcript.Text,
			Ratio:      job.Input.Ratio,
			Subject:    job.Input.Subject,
		})
	})
	if err != nil {
		return s.stageFailed(ctx, job, model.StageSummarize, err)
	}

	result := &model.PipelineResult{
		Transcript: transcript.Text,
		Segments:   transcript.Segments,
		Language:   transcript.Language,
		Duration:   transcript.Duration,
		Summary:    summary.Summary,
	}

	now := time.Now().UTC()
	job.Status = model.JobStatusCompleted
	job.Stage = ""
	job.Result = result
	job.CompletedAt = &now
	if err := s.store.Update(ctx, job); err != nil {
		return err
	}

	if err := s.dedup.Store(ctx, job.Input.Fingerprint, result); err != nil {
		log.Printf("dedup store failed for job %s: %v", job.ID, err)
	}
	s.dedup.Release(ctx, job.Input.Fingerprint)

	elapsed := time.Since(started).Seconds()
	s.audit.Record(audit.ActionJobComplete, job.ID, audit.OutcomeSuccess,
		fmt.Sprintf("pipeline completed in %.2fs", elapsed))
	if err := s.usage.RecordUsage(ctx, job.Owner, job.Input.SizeBytes, elapsed, true); err != nil {
		log.Printf("usage record failed for job %s: %v", job.ID, err)
	}
	s.notifier.BroadcastComplete(job.ID)
	return nil
}

// advanceStage persists the next active stage for progress visibility
// without changing the job status.
func (s *PipelineService) advanceStage(ctx context.Context, job *model.Job, next model.Stage) error {
	job.Stage = next
	if err := s.store.Update(ctx, job); err != nil {
		return err
	}
	s.audit.Record(audit.ActionStageComplete, job.ID, audit.OutcomeSuccess, "advanced to stage "+string(next))
	s.notifier.BroadcastProgress(job.ID, job.Status, next)
	return nil
}

// checkCancel consults the cooperative cancellation flag between
// stages. A stage already in flight always runs to completion first.
func (s *PipelineService) checkCancel(ctx context.Context, job *model.Job) (bool, error) {
	requested, err := s.store.CancelRequested(ctx, job.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	if !requested {
		return false, nil
	}

	now := time.Now().UTC()
	job.Status = model.JobStatusCancelled
	job.Stage = ""
	job.CompletedAt = &now
	if err := s.store.Update(ctx, job); err != nil {
		return false, err
	}
	s.dedup.Release(ctx, job.Input.Fingerprint)
	s.audit.Record(audit.ActionJobCancelled, job.ID, audit.OutcomeSuccess, "cancelled between stages")
	s.notifier.BroadcastProgress(job.ID, model.JobStatusCancelled, "")
	return true, nil
}

func (s *PipelineService) stageFailed(ctx context.Context, job *model.Job, stage model.Stage, cause error) error {
	message := cause.Error()
	var exhausted *apperr.ExhaustedError
	if errors.As(cause, &exhausted) {
		message = fmt.Sprintf("stage %s failed after %d attempts: %v", stage, exhausted.Attempts, exhausted.Err)
	}
	return s.failJob(ctx, job, stage, model.ErrorCodeForStage(stage), message)
}

func (s *PipelineService) failJob(ctx context.Context, job *model.Job, stage model.Stage, code, message string) error {
	now := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.Stage = ""
	job.Error = &model.JobError{Stage: stage, Code: code, Message: message}
	job.CompletedAt = &now
	if err := s.store.Update(ctx, job); err != nil {
		if errors.Is(err, apperr.ErrAlreadyTerminal) {
			// Already cancelled concurrently; keep the cancel outcome.
			return nil
		}
		return err
	}
	s.dedup.Release(ctx, job.Input.Fingerprint)
	s.audit.Record(audit.ActionJobFailed, job.ID, audit.OutcomeFailure, message)
	if err := s.usage.RecordUsage(ctx, job.Owner, 0, 0, false); err != nil {
		log.Printf("usage record failed for job %s: %v", job.ID, err)
	}
	s.notifier.BroadcastError(job.ID, job.Error)
	return nil
}

func (s *PipelineService) removeTemp(path string) {
	if path == "" {
		return
	}
	if err := s.artifacts.Remove(path); err != nil {
		log.Printf("failed to remove temp file %s: %v", path, err)
	}
}
