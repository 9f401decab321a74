package model

import "time"

// SubmitRequest carries the non-file fields of a pipeline submission.
type SubmitRequest struct {
	Ratio   float64 `form:"ratio" validate:"gt=0,lte=1"`
	Subject string  `form:"subject" validate:"omitempty,max=120"`
	Async   *bool   `form:"async"`
}

// SubmitAccepted is returned for asynchronous submissions.
type SubmitAccepted struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Cached    bool      `json:"cached"`
	CreatedAt time.Time `json:"createdAt"`
}

// SubmitCompleted is returned on a dedup hit or a synchronous completion.
type SubmitCompleted struct {
	ID     string          `json:"id,omitempty"`
	Status JobStatus       `json:"status"`
	Cached bool            `json:"cached"`
	Result *PipelineResult `json:"result,omitempty"`
	Error  *JobError       `json:"error,omitempty"`
}

// StatusResponse is the polling read-path payload.
type StatusResponse struct {
	ID          string          `json:"id"`
	Status      JobStatus       `json:"status"`
	Stage       Stage           `json:"stage,omitempty"`
	Result      *PipelineResult `json:"result,omitempty"`
	Error       *JobError       `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// CancelResponse reports the job status after a cancellation request.
type CancelResponse struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
}

// JobSummary is one row of an owner's job listing.
type JobSummary struct {
	ID          string     `json:"id"`
	Filename    string     `json:"filename"`
	Status      JobStatus  `json:"status"`
	Stage       Stage      `json:"stage,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ListResponse is the owner-scoped job listing, newest first.
type ListResponse struct {
	Jobs []JobSummary `json:"jobs"`
}

// StatsResponse aggregates service-level counters.
type StatsResponse struct {
	Jobs      map[JobStatus]int `json:"jobs"`
	Dedup     DedupStats        `json:"dedup"`
	Admission AdmissionStats    `json:"admission"`
	Usage     UsageStats        `json:"usage"`
}

// UsageStats totals the caller's processing for the current month.
type UsageStats struct {
	Owner             string  `json:"owner"`
	Month             string  `json:"month"`
	FilesProcessed    int64   `json:"filesProcessed"`
	BytesProcessed    int64   `json:"bytesProcessed"`
	ProcessingSeconds float64 `json:"processingSeconds"`
	SuccessfulJobs    int64   `json:"successfulJobs"`
	FailedJobs        int64   `json:"failedJobs"`
}

// DedupStats reports dedup cache effectiveness.
type DedupStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// AdmissionStats reports the caller's current window utilization.
type AdmissionStats struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"windowSeconds"`
	Used          int `json:"used"`
	Remaining     int `json:"remaining"`
}

// WebSocket message types
const (
	WSTypeProgress = "progress"
	WSTypeComplete = "complete"
	WSTypeError    = "error"
	WSTypePing     = "ping"
	WSTypePong     = "pong"
)

// WSMessage is the minimal envelope used for client control frames.
type WSMessage struct {
	Type string `json:"type"`
}

// ProgressMessage is pushed to WebSocket subscribers between stages.
type ProgressMessage struct {
	Type   string    `json:"type"`
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
	Stage  Stage     `json:"stage,omitempty"`
	Error  *JobError `json:"error,omitempty"`
}
