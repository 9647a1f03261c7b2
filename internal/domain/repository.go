package domain

import "context"

// JobUpdate carries the optional fields written alongside a status transition.
// Nil fields are left untouched.
type JobUpdate struct {
	FinalKey     *string
	ErrorMessage *string
	Providers    *ProviderMeta
}

// CounterKind selects which batch counter an increment targets.
type CounterKind string

const (
	CounterCompleted CounterKind = "completed"
	CounterFailed    CounterKind = "failed"
)

// JobStore defines persistence for jobs and batch jobs. All state transitions
// go through conditional or atomic operations so that concurrent consumers of
// the same job cannot produce lost updates.
type JobStore interface {
	Create(ctx context.Context, job *Job) error

	// CreateBatch persists a batch and all of its child jobs in one logical
	// operation; partial creation is never observable.
	CreateBatch(ctx context.Context, batch *BatchJob, jobs []*Job) error

	Get(ctx context.Context, jobID string) (*Job, error)
	GetBatch(ctx context.Context, batchID string) (*BatchJob, error)

	// UpdateStatus transitions a job from expected to next, applying update
	// fields in the same write. Returns ErrConflict when the job's current
	// status no longer matches expected, ErrNotFound when the job is missing.
	UpdateStatus(ctx context.Context, jobID string, expected, next JobStatus, update JobUpdate) (*Job, error)

	// IncrementBatchCounter atomically bumps one batch counter and returns the
	// post-increment batch. The boolean is true only for the call whose
	// increment made the batch settled, so exactly one caller observes the
	// completion threshold.
	IncrementBatchCounter(ctx context.Context, batchID string, kind CounterKind) (*BatchJob, bool, error)
}
