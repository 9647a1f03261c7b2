package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"photoflow/internal/domain"
)

type createJobRequest struct {
	UserID    string `json:"user_id"`
	SourceKey string `json:"source_key"`
	Prompt    string `json:"prompt"`
}

type createBatchRequest struct {
	UserID       string   `json:"user_id"`
	SharedPrompt string   `json:"shared_prompt"`
	SourceKeys   []string `json:"source_keys"`
}

type jobResponse struct {
	ID           string              `json:"id"`
	UserID       string              `json:"user_id"`
	Status       string              `json:"status"`
	SourceKey    string              `json:"source_key"`
	FinalKey     string              `json:"final_key,omitempty"`
	Prompt       string              `json:"prompt,omitempty"`
	BatchID      string              `json:"batch_id,omitempty"`
	Providers    domain.ProviderMeta `json:"providers"`
	ErrorMessage string              `json:"error_message,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

type batchResponse struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	SharedPrompt   string    `json:"shared_prompt,omitempty"`
	JobIDs         []string  `json:"job_ids"`
	TotalCount     int       `json:"total_count"`
	CompletedCount int       `json:"completed_count"`
	FailedCount    int       `json:"failed_count"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateJob registers a single processing job and enqueues it.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.SourceKey) == "" {
		a.error(w, http.StatusBadRequest, "user_id and source_key are required")
		return
	}

	job := &domain.Job{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Status:    domain.JobStatusQueued,
		SourceKey: req.SourceKey,
		Prompt:    strings.TrimSpace(req.Prompt),
	}
	if err := a.store.Create(r.Context(), job); err != nil {
		a.logger.Error().Err(err).Msg("handlers: create job failed")
		a.error(w, http.StatusServiceUnavailable, "could not create job")
		return
	}
	if _, err := a.queue.Enqueue(r.Context(), job.ID, middleware.GetReqID(r.Context())); err != nil {
		a.logger.Error().Err(err).Str("job_id", job.ID).Msg("handlers: enqueue failed")
		a.error(w, http.StatusServiceUnavailable, "could not enqueue job")
		return
	}

	a.json(w, http.StatusAccepted, toJobResponse(job))
}

// GetJob returns a job's current lifecycle state.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "job not found")
			return
		}
		a.logger.Error().Err(err).Msg("handlers: get job failed")
		a.error(w, http.StatusServiceUnavailable, "could not load job")
		return
	}
	a.json(w, http.StatusOK, toJobResponse(job))
}

// CreateBatch registers a batch with one child job per source key, atomically,
// and enqueues every child.
func (a *App) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || len(req.SourceKeys) == 0 {
		a.error(w, http.StatusBadRequest, "user_id and source_keys are required")
		return
	}

	batch := &domain.BatchJob{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		SharedPrompt: strings.TrimSpace(req.SharedPrompt),
		TotalCount:   len(req.SourceKeys),
		Status:       domain.BatchStatusProcessing,
	}
	jobs := make([]*domain.Job, 0, len(req.SourceKeys))
	for _, sourceKey := range req.SourceKeys {
		if strings.TrimSpace(sourceKey) == "" {
			a.error(w, http.StatusBadRequest, "source_keys must not contain empty entries")
			return
		}
		job := &domain.Job{
			ID:        uuid.New().String(),
			UserID:    req.UserID,
			Status:    domain.JobStatusQueued,
			SourceKey: sourceKey,
			Prompt:    batch.SharedPrompt,
			BatchID:   batch.ID,
		}
		jobs = append(jobs, job)
		batch.JobIDs = append(batch.JobIDs, job.ID)
	}

	if err := a.store.CreateBatch(r.Context(), batch, jobs); err != nil {
		a.logger.Error().Err(err).Msg("handlers: create batch failed")
		a.error(w, http.StatusServiceUnavailable, "could not create batch")
		return
	}
	traceID := middleware.GetReqID(r.Context())
	for _, job := range jobs {
		if _, err := a.queue.Enqueue(r.Context(), job.ID, traceID); err != nil {
			// The job row exists; redrive tooling can re-enqueue it later.
			a.logger.Error().Err(err).Str("job_id", job.ID).Msg("handlers: enqueue batch child failed")
		}
	}

	a.json(w, http.StatusAccepted, toBatchResponse(batch))
}

// GetBatch returns a batch's aggregate progress.
func (a *App) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := a.store.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "batch not found")
			return
		}
		a.logger.Error().Err(err).Msg("handlers: get batch failed")
		a.error(w, http.StatusServiceUnavailable, "could not load batch")
		return
	}
	a.json(w, http.StatusOK, toBatchResponse(batch))
}

func toJobResponse(job *domain.Job) jobResponse {
	return jobResponse{
		ID:           job.ID,
		UserID:       job.UserID,
		Status:       string(job.Status),
		SourceKey:    job.SourceKey,
		FinalKey:     job.FinalKey,
		Prompt:       job.Prompt,
		BatchID:      job.BatchID,
		Providers:    job.Providers,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

func toBatchResponse(batch *domain.BatchJob) batchResponse {
	return batchResponse{
		ID:             batch.ID,
		UserID:         batch.UserID,
		SharedPrompt:   batch.SharedPrompt,
		JobIDs:         batch.JobIDs,
		TotalCount:     batch.TotalCount,
		CompletedCount: batch.CompletedCount,
		FailedCount:    batch.FailedCount,
		Status:         string(batch.Status),
		CreatedAt:      batch.CreatedAt,
		UpdatedAt:      batch.UpdatedAt,
	}
}
