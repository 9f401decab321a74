package model

import "time"

// Job is one trackable unit of pipeline work.
type Job struct {
	ID     string          `json:"id"`
	Owner  string          `json:"owner"`
	Input  InputDescriptor `json:"input"`
	Status JobStatus       `json:"status"`
	// Stage is the active pipeline stage, set only while processing.
	Stage        Stage           `json:"stage,omitempty"`
	Result       *PipelineResult `json:"result,omitempty"`
	Error        *JobError       `json:"error,omitempty"`
	ArtifactPath string          `json:"-"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// InputDescriptor captures the submitted file and its declared configuration.
type InputDescriptor struct {
	Filename    string  `json:"filename"`
	SizeBytes   int64   `json:"sizeBytes"`
	Fingerprint string  `json:"fingerprint"`
	Ratio       float64 `json:"ratio"`
	Subject     string  `json:"subject,omitempty"`
}

// PipelineResult holds the transcript and summary of a completed job.
type PipelineResult struct {
	Transcript string    `json:"transcript"`
	Segments   []Segment `json:"segments"`
	Language   string    `json:"language,omitempty"`
	Duration   float64   `json:"duration,omitempty"`
	Summary    string    `json:"summary"`
}

// Segment is one timestamped slice of the transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// JobError describes a terminal failure, identifying the failing stage.
type JobError struct {
	Stage   Stage  `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
