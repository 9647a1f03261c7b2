package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusEditing    JobStatus = "EDITING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// EditingProviderFallback marks a job whose final image is the optimized
// source rather than an edited result.
const EditingProviderFallback = "fallback"

// ProviderMeta records which providers served a job, for auditability.
type ProviderMeta struct {
	Analysis string `json:"analysis,omitempty"`
	Editing  string `json:"editing,omitempty"`
}

// Job encapsulates the lifecycle of a single image-processing request.
type Job struct {
	ID           string
	UserID       string
	Status       JobStatus
	SourceKey    string
	FinalKey     string
	Prompt       string
	BatchID      string
	Providers    ProviderMeta
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BatchStatus enumerates batch lifecycle states.
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
)

// BatchJob groups jobs submitted together under one shared prompt and tracks
// their aggregate completion.
type BatchJob struct {
	ID             string
	UserID         string
	SharedPrompt   string
	JobIDs         []string
	TotalCount     int
	CompletedCount int
	FailedCount    int
	Status         BatchStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Settled reports whether every child job reached a terminal status.
func (b *BatchJob) Settled() bool {
	return b.CompletedCount+b.FailedCount >= b.TotalCount
}
