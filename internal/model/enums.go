package model

// Job status
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

var AllStatuses = []JobStatus{
	JobStatusPending, JobStatusProcessing, JobStatusCompleted,
	JobStatusFailed, JobStatusCancelled,
}

// IsTerminal reports whether no further transition is permitted.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo enforces the monotonic state machine:
// pending -> processing -> {completed | failed | cancelled},
// pending -> cancelled, pending -> failed (scheduling failure).
// Terminal states accept nothing.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusCancelled || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	}
	return false
}

// Pipeline stage, meaningful only while a job is processing.
type Stage string

const (
	StagePreprocess Stage = "preprocess"
	StageTranscribe Stage = "transcribe"
	StageSummarize  Stage = "summarize"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StagePreprocess, StageTranscribe, StageSummarize}

// Error codes attached to failed jobs
const (
	ErrCodePreprocessFailed    = "preprocessing_failed"
	ErrCodeTranscriptionFailed = "transcription_failed"
	ErrCodeSummarizationFailed = "summarization_failed"
	ErrCodeInternal            = "internal_error"
)

// ErrorCodeForStage maps a failing stage to its error code.
func ErrorCodeForStage(stage Stage) string {
	switch stage {
	case StagePreprocess:
		return ErrCodePreprocessFailed
	case StageTranscribe:
		return ErrCodeTranscriptionFailed
	case StageSummarize:
		return ErrCodeSummarizationFailed
	}
	return ErrCodeInternal
}
