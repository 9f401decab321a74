package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogniscribe/api/internal/apperr"
	"github.com/cogniscribe/api/internal/audit"
	"github.com/cogniscribe/api/internal/client"
	"github.com/cogniscribe/api/internal/model"
	"github.com/cogniscribe/api/internal/retry"
	"github.com/cogniscribe/api/internal/storage"
)

// fakeJobStore keeps jobs in memory with the durable tier's semantics.
type fakeJobStore struct {
	mu          sync.Mutex
	jobs        map[string]*model.Job
	cancelReq   map[string]bool
	createErr   error
	updateErr   error
	updateCalls int
	// failUpdateAt makes updateErr fire only on the n-th Update call;
	// zero means every call.
	failUpdateAt int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:      make(map[string]*model.Job),
		cancelReq: make(map[string]bool),
	}
}

func (s *fakeJobStore) Create(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *fakeJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeJobStore) Update(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.updateErr != nil && (s.failUpdateAt == 0 || s.updateCalls == s.failUpdateAt) {
		return s.updateErr
	}
	if _, ok := s.jobs[job.ID]; !ok {
		return apperr.ErrNotFound
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *fakeJobStore) ListByOwner(ctx context.Context, owner string) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*model.Job
	for _, job := range s.jobs {
		if job.Owner == owner {
			copied := *job
			jobs = append(jobs, &copied)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

func (s *fakeJobStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[model.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (s *fakeJobStore) MarkCancelled(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, apperr.ErrNotFound
	}
	if job.Status != model.JobStatusPending {
		return false, nil
	}
	job.Status = model.JobStatusCancelled
	return true, nil
}

func (s *fakeJobStore) RequestCancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return apperr.ErrNotFound
	}
	s.cancelReq[id] = true
	return nil
}

func (s *fakeJobStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false, apperr.ErrNotFound
	}
	return s.cancelReq[id], nil
}

// fakeDedup implements DedupCache in memory.
type fakeDedup struct {
	mu       sync.Mutex
	results  map[string]*model.PipelineResult
	inflight map[string]string
	hits     int64
	misses   int64
	lookups  int
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{
		results:  make(map[string]*model.PipelineResult),
		inflight: make(map[string]string),
	}
}

func (d *fakeDedup) Lookup(ctx context.Context, fp string) (*model.PipelineResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	if result, ok := d.results[fp]; ok {
		d.hits++
		return result, true
	}
	d.misses++
	return nil, false
}

func (d *fakeDedup) Store(ctx context.Context, fp string, result *model.PipelineResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[fp] = result
	return nil
}

func (d *fakeDedup) Reserve(ctx context.Context, fp, jobID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, held := d.inflight[fp]; held {
		return existing, false
	}
	d.inflight[fp] = jobID
	return "", true
}

func (d *fakeDedup) Release(ctx context.Context, fp string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, fp)
}

func (d *fakeDedup) Stats(ctx context.Context) (int64, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hits, d.misses
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (e *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type auditEvent struct {
	action, subjectID, outcome string
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []auditEvent
}

func (a *fakeAuditor) Record(action, subjectID, outcome, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, auditEvent{action, subjectID, outcome})
}

func (a *fakeAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.action
	}
	return out
}

type fakeUsage struct {
	mu        sync.Mutex
	successes int
	failures  int
	bytes     int64
}

func (u *fakeUsage) RecordUsage(ctx context.Context, owner string, b int64, secs float64, success bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if success {
		u.successes++
	} else {
		u.failures++
	}
	u.bytes += b
	return nil
}

func (u *fakeUsage) UsageFor(ctx context.Context, owner string) (*model.UsageStats, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return &model.UsageStats{
		Owner:          owner,
		Month:          "2026-08",
		FilesProcessed: int64(u.successes),
		BytesProcessed: u.bytes,
		SuccessfulJobs: int64(u.successes),
		FailedJobs:     int64(u.failures),
	}, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	progress  []model.Stage
	completed []string
	errored   []string
}

func (n *fakeNotifier) BroadcastProgress(jobID string, status model.JobStatus, stage model.Stage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, stage)
}

func (n *fakeNotifier) BroadcastComplete(jobID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, jobID)
}

func (n *fakeNotifier) BroadcastError(jobID string, jobErr *model.JobError) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errored = append(n.errored, jobID)
}

type fakeAdmission struct{}

func (fakeAdmission) Limit() int            { return 10 }
func (fakeAdmission) Window() time.Duration { return time.Minute }
func (fakeAdmission) Utilization(ctx context.Context, clientID string) (int, int) {
	return 2, 8
}

type fakeArtifacts struct {
	mu      sync.Mutex
	removed []string
}

func (a *fakeArtifacts) Save(filename string, body io.Reader) (*storage.SavedArtifact, error) {
	return nil, errors.New("not used in service tests")
}

func (a *fakeArtifacts) Remove(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, path)
	return nil
}

func (a *fakeArtifacts) SweepOlderThan(cutoff time.Time) (int, error) { return 0, nil }

type fakePreprocessor struct {
	err   error
	calls int
}

func (p *fakePreprocessor) Preprocess(ctx context.Context, req *client.PreprocessRequest) (*client.PreprocessResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &client.PreprocessResponse{OutputPath: "/tmp/clean.wav", Enhanced: true}, nil
}

type fakeTranscriber struct {
	err   error
	calls int
}

func (tr *fakeTranscriber) Transcribe(ctx context.Context, req *client.TranscribeRequest) (*client.TranscribeResponse, error) {
	tr.calls++
	if tr.err != nil {
		return nil, tr.err
	}
	return &client.TranscribeResponse{
		Text:     "the mitochondria is the powerhouse of the cell",
		Segments: []model.Segment{{Start: 0, End: 3.2, Text: "the mitochondria is the powerhouse of the cell"}},
		Language: "en",
		Duration: 3.2,
	}, nil
}

type fakeSummarizer struct {
	err   error
	calls int
}

func (s *fakeSummarizer) Summarize(ctx context.Context, req *client.SummarizeRequest) (*client.SummarizeResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &client.SummarizeResponse{Summary: "## Key Concepts\n- mitochondria"}, nil
}

type testEnv struct {
	svc          *PipelineService
	store        *fakeJobStore
	dedup        *fakeDedup
	enqueuer     *fakeEnqueuer
	auditor      *fakeAuditor
	usage        *fakeUsage
	notifier     *fakeNotifier
	artifacts    *fakeArtifacts
	preprocessor *fakePreprocessor
	transcriber  *fakeTranscriber
	summarizer   *fakeSummarizer
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:        newFakeJobStore(),
		dedup:        newFakeDedup(),
		enqueuer:     &fakeEnqueuer{},
		auditor:      &fakeAuditor{},
		usage:        &fakeUsage{},
		notifier:     &fakeNotifier{},
		artifacts:    &fakeArtifacts{},
		preprocessor: &fakePreprocessor{},
		transcriber:  &fakeTranscriber{},
		summarizer:   &fakeSummarizer{},
	}
	env.svc = NewPipelineService(Deps{
		Store:        env.store,
		Dedup:        env.dedup,
		Enqueuer:     env.enqueuer,
		Audit:        env.auditor,
		Usage:        env.usage,
		Notifier:     env.notifier,
		Admission:    fakeAdmission{},
		Artifacts:    env.artifacts,
		Preprocessor: env.preprocessor,
		Transcriber:  env.transcriber,
		Summarizer:   env.summarizer,
		RetryCfg:     retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	return env
}

func testArtifact(fp string) *storage.SavedArtifact {
	return &storage.SavedArtifact{
		Path:        "/data/audio/2026-08-28/abc_lecture.wav",
		Filename:    "lecture.wav",
		SizeBytes:   2048,
		Fingerprint: fp,
	}
}

func submitReq() *model.SubmitRequest {
	return &model.SubmitRequest{Ratio: 0.15}
}

func TestSubmitAsyncCreatesAndEnqueues(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)
	require.NotNil(t, outcome.Accepted)
	assert.Equal(t, model.JobStatusPending, outcome.Accepted.Status)
	assert.NotEmpty(t, outcome.Accepted.ID)

	job, err := env.store.Get(ctx, outcome.Accepted.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", job.Owner)
	assert.Equal(t, "fp-1", job.Input.Fingerprint)

	require.Len(t, env.enqueuer.tasks, 1)
	assert.Equal(t, TaskTypePipeline, env.enqueuer.tasks[0].Type())

	jobID, err := ParseTaskPayload(env.enqueuer.tasks[0].Payload())
	require.NoError(t, err)
	assert.Equal(t, outcome.Accepted.ID, jobID)

	assert.Contains(t, env.auditor.actions(), audit.ActionSubmit)
}

func TestSubmitDedupHitShortCircuits(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	cached := &model.PipelineResult{Transcript: "prior", Summary: "- prior"}
	require.NoError(t, env.dedup.Store(ctx, "fp-1", cached))

	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)
	require.NotNil(t, outcome.Completed)
	assert.True(t, outcome.Completed.Cached)
	assert.Equal(t, cached, outcome.Completed.Result)

	// No job record, no queue activity, and the duplicate upload is gone.
	assert.Empty(t, env.store.jobs)
	assert.Empty(t, env.enqueuer.tasks)
	assert.Equal(t, []string{testArtifact("fp-1").Path}, env.artifacts.removed)
	assert.Contains(t, env.auditor.actions(), audit.ActionDedupHit)
}

func TestSubmitConcurrentDuplicateJoinsExistingJob(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	first, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)

	second, err := env.svc.Submit(ctx, "user-2", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)
	require.NotNil(t, second.Accepted)
	assert.Equal(t, first.Accepted.ID, second.Accepted.ID)

	// Only the first submission created a job and a task.
	assert.Len(t, env.store.jobs, 1)
	assert.Len(t, env.enqueuer.tasks, 1)
}

func TestSubmitEnqueueFailureFailsJob(t *testing.T) {
	env := newTestEnv()
	env.enqueuer.err = errors.New("queue unavailable")
	ctx := context.Background()

	_, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.Error(t, err)

	// The durable record reflects the failure instead of dangling as pending.
	var job *model.Job
	for _, j := range env.store.jobs {
		job = j
	}
	require.NotNil(t, job)
	assert.Equal(t, model.JobStatusFailed, job.Status)
}

func TestSubmitSyncRunsInline(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	sync := false
	req := submitReq()
	req.Async = &sync

	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), req)
	require.NoError(t, err)
	require.NotNil(t, outcome.Completed)
	assert.Equal(t, model.JobStatusCompleted, outcome.Completed.Status)
	require.NotNil(t, outcome.Completed.Result)
	assert.Contains(t, outcome.Completed.Result.Summary, "mitochondria")
	assert.Empty(t, env.enqueuer.tasks)
}

func TestExecuteHappyPath(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)
	jobID := outcome.Accepted.ID

	require.NoError(t, env.svc.Execute(ctx, jobID))

	job, err := env.store.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Empty(t, job.Stage)
	require.NotNil(t, job.Result)
	assert.Equal(t, "the mitochondria is the powerhouse of the cell", job.Result.Transcript)
	require.NotNil(t, job.CompletedAt)

	// Result is now available for future dedup hits and the
	// reservation is released.
	_, ok := env.dedup.results["fp-1"]
	assert.True(t, ok)
	assert.Empty(t, env.dedup.inflight)

	// Intermediate preprocessed audio was cleaned up.
	assert.Contains(t, env.artifacts.removed, "/tmp/clean.wav")

	assert.Equal(t, []string{jobID}, env.notifier.completed)
	assert.Equal(t, 1, env.usage.successes)
	assert.Equal(t, int64(2048), env.usage.bytes)
}

func TestExecuteStageFailureNamesStage(t *testing.T) {
	env := newTestEnv()
	env.transcriber.err = apperr.Dependency("whisper", true, errors.New("connection refused"))
	ctx := context.Background()

	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)
	jobID := outcome.Accepted.ID

	require.NoError(t, env.svc.Execute(ctx, jobID))

	job, err := env.store.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, model.StageTranscribe, job.Error.Stage)
	assert.Equal(t, model.ErrCodeTranscriptionFailed, job.Error.Code)
	assert.Contains(t, job.Error.Message, "after 2 attempts")

	// Transient failure was retried up to the budget.
	assert.Equal(t, 2, env.transcriber.calls)
	// The summarize stage never ran.
	assert.Equal(t, 0, env.summarizer.calls)
	// Reservation released so a resubmission can proceed.
	assert.Empty(t, env.dedup.inflight)
	assert.Equal(t, 1, env.usage.failures)
	assert.Equal(t, []string{jobID}, env.notifier.errored)
}

func TestExecutePermanentFailureDoesNotRetry(t *testing.T) {
	env := newTestEnv()
	env.summarizer.err = apperr.Dependency("summarizer", false, errors.New("empty response"))
	ctx := context.Background()

	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)

	require.NoError(t, env.svc.Execute(ctx, outcome.Accepted.ID))

	job, _ := env.store.Get(ctx, outcome.Accepted.ID)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, model.StageSummarize, job.Error.Stage)
	assert.Equal(t, 1, env.summarizer.calls)
}

func TestExecuteSkipsNonPendingJob(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)
	jobID := outcome.Accepted.ID

	_, err = env.svc.Cancel(ctx, jobID)
	require.NoError(t, err)

	require.NoError(t, env.svc.Execute(ctx, jobID))

	job, _ := env.store.Get(ctx, jobID)
	assert.Equal(t, model.JobStatusCancelled, job.Status)
	assert.Equal(t, 0, env.preprocessor.calls)
}

func TestExecuteHonorsCooperativeCancellation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)
	jobID := outcome.Accepted.ID

	// Cancellation arrives before the runner picks the job up but after
	// it leaves pending, so only the flag path applies.
	require.NoError(t, env.store.RequestCancel(ctx, jobID))

	require.NoError(t, env.svc.Execute(ctx, jobID))

	job, _ := env.store.Get(ctx, jobID)
	assert.Equal(t, model.JobStatusCancelled, job.Status)
	require.NotNil(t, job.CompletedAt)
	// No stage ran.
	assert.Equal(t, 0, env.preprocessor.calls)
}

func TestCancelPendingJob(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)

	resp, err := env.svc.Cancel(ctx, outcome.Accepted.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, resp.Status)

	// The in-flight reservation is released on immediate cancellation.
	assert.Empty(t, env.dedup.inflight)
	assert.Contains(t, env.auditor.actions(), audit.ActionJobCancelled)
}

func TestCancelProcessingJobIsCooperative(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)
	jobID := outcome.Accepted.ID

	job, _ := env.store.Get(ctx, jobID)
	job.Status = model.JobStatusProcessing
	job.Stage = model.StageTranscribe
	require.NoError(t, env.store.Update(ctx, job))

	resp, err := env.svc.Cancel(ctx, jobID)
	require.NoError(t, err)
	// Still processing: the runner will notice the flag between stages.
	assert.Equal(t, model.JobStatusProcessing, resp.Status)

	requested, err := env.store.CancelRequested(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, requested)
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)
	require.NoError(t, env.svc.Execute(ctx, outcome.Accepted.ID))

	_, err = env.svc.Cancel(ctx, outcome.Accepted.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyTerminal)
}

func TestCancelMissingJob(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStatusReflectsPersistedSnapshot(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)

	status, err := env.svc.Status(ctx, outcome.Accepted.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, status.Status)
	assert.Nil(t, status.Result)

	require.NoError(t, env.svc.Execute(ctx, outcome.Accepted.ID))

	status, err = env.svc.Status(ctx, outcome.Accepted.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, status.Status)
	require.NotNil(t, status.Result)
}

func TestStatsAggregates(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	// One completed run and one dedup hit against it.
	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)
	require.NoError(t, env.svc.Execute(ctx, outcome.Accepted.ID))

	_, err = env.svc.Submit(ctx, "user-2", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)

	stats, err := env.svc.Stats(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Jobs[model.JobStatusCompleted])
	// Every status appears in the map even when zero.
	for _, status := range model.AllStatuses {
		_, ok := stats.Jobs[status]
		assert.True(t, ok, string(status))
	}

	assert.Equal(t, int64(1), stats.Dedup.Hits)
	assert.Equal(t, int64(1), stats.Dedup.Misses)
	assert.InDelta(t, 0.5, stats.Dedup.HitRate, 0.001)

	assert.Equal(t, 10, stats.Admission.Limit)
	assert.Equal(t, 60, stats.Admission.WindowSeconds)
	assert.Equal(t, 2, stats.Admission.Used)
	assert.Equal(t, 8, stats.Admission.Remaining)

	assert.Equal(t, "user-1", stats.Usage.Owner)
	assert.Equal(t, int64(1), stats.Usage.SuccessfulJobs)
	assert.Equal(t, int64(2048), stats.Usage.BytesProcessed)
}

func TestListReturnsOwnersJobsNewestFirst(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	first, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)
	second, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-2"), submitReq())
	require.NoError(t, err)
	_, err = env.svc.Submit(ctx, "user-2", testArtifact("fp-3"), submitReq())
	require.NoError(t, err)

	// Make the second submission strictly newer in the fake store.
	env.store.mu.Lock()
	env.store.jobs[second.Accepted.ID].CreatedAt = env.store.jobs[first.Accepted.ID].CreatedAt.Add(time.Second)
	env.store.mu.Unlock()

	list, err := env.svc.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list.Jobs, 2)
	assert.Equal(t, second.Accepted.ID, list.Jobs[0].ID)
	assert.Equal(t, first.Accepted.ID, list.Jobs[1].ID)
	assert.Equal(t, "lecture.wav", list.Jobs[0].Filename)
}

func TestExecuteStopsWhenCancelWinsStatusRace(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)

	// The durable tier reports the job already terminal when the
	// runner tries to flip it to processing.
	env.store.updateErr = apperr.ErrAlreadyTerminal

	require.NoError(t, env.svc.Execute(ctx, outcome.Accepted.ID))
	assert.Equal(t, 0, env.preprocessor.calls)
	assert.Empty(t, env.notifier.completed)
}

func TestStageAdvanceFailureRemovesIntermediateFile(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	outcome, err := env.svc.Submit(ctx, "user-1", testArtifact("fp-1"), submitReq())
	require.NoError(t, err)

	// First update (pending -> processing) succeeds; the stage advance
	// after preprocess hits a storage failure.
	env.store.updateErr = errors.New("disk full")
	env.store.failUpdateAt = 2

	err = env.svc.Execute(ctx, outcome.Accepted.ID)
	require.Error(t, err)
	assert.Contains(t, env.artifacts.removed, "/tmp/clean.wav")
}
