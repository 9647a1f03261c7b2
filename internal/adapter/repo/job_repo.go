package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"photoflow/internal/domain"
)

// JobStorePG implements domain.JobStore on PostgreSQL. Conditional transitions
// and counter increments are expressed as single SQL statements so concurrent
// consumers of the same job cannot produce lost updates.
type JobStorePG struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a job store backed by PostgreSQL.
func NewJobStore(pool *pgxpool.Pool) *JobStorePG {
	return &JobStorePG{pool: pool}
}

const jobColumns = `id, user_id, status, source_key, final_key, prompt,
COALESCE(batch_id, ''), COALESCE(analysis_provider, ''), COALESCE(editing_provider, ''),
error_message, created_at, updated_at`

// Create inserts a new job record.
func (r *JobStorePG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, user_id, status, source_key, final_key, prompt, batch_id, error_message)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Status,
		job.SourceKey,
		job.FinalKey,
		job.Prompt,
		job.BatchID,
		job.ErrorMessage,
	)
	if err != nil {
		return storageErr("create job", err)
	}
	return nil
}

// CreateBatch inserts the batch and all of its child jobs in one transaction.
func (r *JobStorePG) CreateBatch(ctx context.Context, batch *domain.BatchJob, jobs []*domain.Job) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin batch", err)
	}
	defer tx.Rollback(ctx)

	batchQuery := `
INSERT INTO batch_jobs (id, user_id, shared_prompt, total_count, completed_count, failed_count, status)
VALUES ($1, $2, $3, $4, 0, 0, $5);
`
	if _, err := tx.Exec(ctx, batchQuery,
		batch.ID, batch.UserID, batch.SharedPrompt, batch.TotalCount, batch.Status,
	); err != nil {
		return storageErr("create batch", err)
	}

	jobQuery := `
INSERT INTO jobs (id, user_id, status, source_key, final_key, prompt, batch_id, batch_pos, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	for pos, job := range jobs {
		if _, err := tx.Exec(ctx, jobQuery,
			job.ID, job.UserID, job.Status, job.SourceKey, job.FinalKey,
			job.Prompt, batch.ID, pos, job.ErrorMessage,
		); err != nil {
			return storageErr("create batch job", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit batch", err)
	}
	return nil
}

// Get fetches a job by its identifier.
func (r *JobStorePG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1;`, jobColumns)
	job, err := scanJob(r.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, storageErr("get job", err)
	}
	return job, nil
}

// GetBatch fetches a batch and its child job ids in submission order.
func (r *JobStorePG) GetBatch(ctx context.Context, batchID string) (*domain.BatchJob, error) {
	query := `
SELECT id, user_id, shared_prompt, total_count, completed_count, failed_count, status, created_at, updated_at
FROM batch_jobs
WHERE id = $1;
`
	batch, err := scanBatch(r.pool.QueryRow(ctx, query, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, storageErr("get batch", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT id FROM jobs WHERE batch_id = $1 ORDER BY batch_pos;`, batchID)
	if err != nil {
		return nil, storageErr("get batch jobs", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan batch job id", err)
		}
		batch.JobIDs = append(batch.JobIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get batch jobs", err)
	}
	return batch, nil
}

// UpdateStatus transitions a job conditionally on its current status. The
// WHERE predicate is the optimistic lock: a stale transition matches no rows
// and surfaces as domain.ErrConflict.
func (r *JobStorePG) UpdateStatus(ctx context.Context, jobID string, expected, next domain.JobStatus, update domain.JobUpdate) (*domain.Job, error) {
	var analysisProvider, editingProvider *string
	if update.Providers != nil {
		analysisProvider = &update.Providers.Analysis
		editingProvider = &update.Providers.Editing
	}
	query := fmt.Sprintf(`
UPDATE jobs
SET status = $3,
    updated_at = NOW(),
    final_key = COALESCE($4, final_key),
    error_message = COALESCE($5, error_message),
    analysis_provider = COALESCE($6, analysis_provider),
    editing_provider = COALESCE($7, editing_provider)
WHERE id = $1 AND status = $2
RETURNING %s;`, jobColumns)

	job, err := scanJob(r.pool.QueryRow(ctx, query,
		jobID, expected, next, update.FinalKey, update.ErrorMessage, analysisProvider, editingProvider,
	))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, storageErr("update job status", err)
	}

	// No row matched: either the job is gone or another consumer advanced it.
	if _, getErr := r.Get(ctx, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrConflict
}

// IncrementBatchCounter atomically bumps one counter and flips the batch to
// COMPLETED in the same statement when the increment reaches the total. The
// guard on the sum means only calls that still have headroom increment, so
// the sum can never exceed the total and exactly one caller observes it
// becoming equal.
func (r *JobStorePG) IncrementBatchCounter(ctx context.Context, batchID string, kind domain.CounterKind) (*domain.BatchJob, bool, error) {
	column := "completed_count"
	if kind == domain.CounterFailed {
		column = "failed_count"
	}
	query := fmt.Sprintf(`
UPDATE batch_jobs
SET %s = %s + 1,
    status = CASE WHEN completed_count + failed_count + 1 >= total_count THEN $2 ELSE status END,
    updated_at = NOW()
WHERE id = $1 AND completed_count + failed_count < total_count
RETURNING id, user_id, shared_prompt, total_count, completed_count, failed_count, status, created_at, updated_at;`,
		column, column)

	batch, err := scanBatch(r.pool.QueryRow(ctx, query, batchID, domain.BatchStatusCompleted))
	if err == nil {
		settled := batch.CompletedCount+batch.FailedCount == batch.TotalCount
		return batch, settled, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, storageErr("increment batch counter", err)
	}

	// Already settled or missing; re-read to tell the two apart.
	batch, getErr := r.GetBatch(ctx, batchID)
	if getErr != nil {
		return nil, false, getErr
	}
	return batch, false, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.SourceKey,
		&job.FinalKey,
		&job.Prompt,
		&job.BatchID,
		&job.Providers.Analysis,
		&job.Providers.Editing,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

func scanBatch(row pgx.Row) (*domain.BatchJob, error) {
	var batch domain.BatchJob
	if err := row.Scan(
		&batch.ID,
		&batch.UserID,
		&batch.SharedPrompt,
		&batch.TotalCount,
		&batch.CompletedCount,
		&batch.FailedCount,
		&batch.Status,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &batch, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}

var _ domain.JobStore = (*JobStorePG)(nil)
