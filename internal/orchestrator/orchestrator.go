package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"

	"github.com/rs/zerolog"

	"photoflow/internal/domain"
	"photoflow/internal/notify"
	"photoflow/internal/provider"
	"photoflow/internal/queue"
	"photoflow/internal/storage"
)

// Orchestrator drives one job per queue message from its current persisted
// state to a terminal state. It owns all retry, fallback and idempotency
// decisions; the store owns how transitions are durably recorded.
//
// Safety under duplicate delivery rests on two rules: the authoritative job
// is always re-read before acting, and every transition is a conditional
// write. There is no in-process state shared across messages.
type Orchestrator struct {
	store     domain.JobStore
	objects   storage.ObjectStore
	providers *provider.Factory
	notifier  notify.Dispatcher
	logger    zerolog.Logger
}

// New wires an orchestrator from its collaborators.
func New(store domain.JobStore, objects storage.ObjectStore, providers *provider.Factory, notifier notify.Dispatcher, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		objects:   objects,
		providers: providers,
		notifier:  notifier,
		logger:    logger,
	}
}

// Handle implements queue.Handler. A nil return acknowledges the message;
// any error leaves it for queue redelivery.
func (o *Orchestrator) Handle(ctx context.Context, msg queue.Message) error {
	logger := o.logger.With().Str("job_id", msg.JobID).Str("trace_id", msg.TraceID).Logger()

	job, err := o.store.Get(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// A message without a job is an anomaly, not a retryable fault.
			logger.Error().Msg("orchestrator: no job for message, dropping")
			return nil
		}
		return err
	}

	if job.Status.Terminal() {
		logger.Debug().Str("status", string(job.Status)).Msg("orchestrator: job already terminal")
		return nil
	}

	if job.Status == domain.JobStatusQueued {
		job, err = o.transition(ctx, logger, job, domain.JobStatusProcessing, domain.JobUpdate{})
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return nil
		}
	}

	return o.process(ctx, logger, job)
}

func (o *Orchestrator) process(ctx context.Context, logger zerolog.Logger, job *domain.Job) error {
	workKey := job.SourceKey
	if optimizedKey, err := o.objects.Optimize(ctx, job.SourceKey); err != nil {
		logger.Warn().Err(err).Msg("orchestrator: optimize failed, continuing with original")
	} else {
		workKey = optimizedKey
	}

	img, err := o.loadImage(ctx, workKey)
	if err != nil {
		return err
	}

	analysis, err := o.providers.Analysis().Analyze(ctx, img, job.Prompt)
	if err != nil {
		if provider.IsTransient(err) || provider.IsPermanent(err) {
			// Retries are exhausted by now; the job fails.
			return o.fail(ctx, logger, job, fmt.Errorf("analysis: %w", err))
		}
		return err
	}
	logger.Debug().Str("provider", analysis.Provider).Strs("labels", analysis.Labels).Msg("orchestrator: analysis done")

	if job.Status == domain.JobStatusProcessing {
		meta := domain.ProviderMeta{Analysis: analysis.Provider}
		job, err = o.transition(ctx, logger, job, domain.JobStatusEditing, domain.JobUpdate{Providers: &meta})
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return nil
		}
	}

	instructions := provider.BuildInstructions(analysis, job.Prompt)
	edit, err := o.providers.Editing().Edit(ctx, img, instructions)
	if err != nil {
		if provider.IsTransient(err) || provider.IsPermanent(err) {
			// A failed edit degrades to the optimized source instead of
			// failing the job.
			logger.Warn().Err(err).Msg("orchestrator: editing failed, falling back to optimized source")
			return o.completeFallback(ctx, logger, job, workKey, analysis)
		}
		return err
	}

	finalKey, err := o.objects.Put(ctx, finalKeyFor(job), edit.Data)
	if err != nil {
		return fmt.Errorf("store edited image: %w", err)
	}
	meta := domain.ProviderMeta{Analysis: analysis.Provider, Editing: edit.Provider}
	return o.complete(ctx, logger, job, finalKey, meta)
}

// transition applies a conditional status update from the job's current
// status. Losing the conditional write is not an error: the job is re-read
// and processing resumes from whatever state the winner left behind.
func (o *Orchestrator) transition(ctx context.Context, logger zerolog.Logger, job *domain.Job, next domain.JobStatus, update domain.JobUpdate) (*domain.Job, error) {
	updated, err := o.store.UpdateStatus(ctx, job.ID, job.Status, next, update)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return nil, err
	}
	logger.Debug().
		Str("expected", string(job.Status)).
		Str("next", string(next)).
		Msg("orchestrator: transition lost the race, resuming from current state")
	return o.store.Get(ctx, job.ID)
}

func (o *Orchestrator) completeFallback(ctx context.Context, logger zerolog.Logger, job *domain.Job, workKey string, analysis *provider.AnalysisResult) error {
	finalKey := finalKeyFor(job)
	if err := o.objects.Copy(ctx, workKey, finalKey); err != nil {
		return fmt.Errorf("fallback copy: %w", err)
	}
	meta := domain.ProviderMeta{Analysis: analysis.Provider, Editing: domain.EditingProviderFallback}
	return o.complete(ctx, logger, job, finalKey, meta)
}

func (o *Orchestrator) complete(ctx context.Context, logger zerolog.Logger, job *domain.Job, finalKey string, meta domain.ProviderMeta) error {
	updated, err := o.store.UpdateStatus(ctx, job.ID, job.Status, domain.JobStatusCompleted, domain.JobUpdate{
		FinalKey:  &finalKey,
		Providers: &meta,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Debug().Msg("orchestrator: completion lost the race, job already terminal")
			return nil
		}
		return err
	}
	logger.Info().Str("final_key", finalKey).Str("editing_provider", meta.Editing).Msg("orchestrator: job completed")
	return o.settle(ctx, logger, updated)
}

func (o *Orchestrator) fail(ctx context.Context, logger zerolog.Logger, job *domain.Job, cause error) error {
	message := cause.Error()
	updated, err := o.store.UpdateStatus(ctx, job.ID, job.Status, domain.JobStatusFailed, domain.JobUpdate{
		ErrorMessage: &message,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Debug().Msg("orchestrator: failure transition lost the race, job already terminal")
			return nil
		}
		return err
	}
	logger.Error().Err(cause).Msg("orchestrator: job failed")
	return o.settle(ctx, logger, updated)
}

// settle performs the bookkeeping owed after a terminal transition. The
// caller holds the winning conditional write, so the batch counter increment
// happens at most once per child job.
func (o *Orchestrator) settle(ctx context.Context, logger zerolog.Logger, job *domain.Job) error {
	if job.BatchID == "" {
		if err := o.notifier.JobCompleted(ctx, job); err != nil {
			logger.Warn().Err(err).Msg("orchestrator: job notification failed")
		}
		return nil
	}

	kind := domain.CounterCompleted
	if job.Status == domain.JobStatusFailed {
		kind = domain.CounterFailed
	}
	batch, settled, err := o.store.IncrementBatchCounter(ctx, job.BatchID, kind)
	if err != nil {
		return err
	}
	if settled {
		logger.Info().Str("batch_id", batch.ID).
			Int("completed", batch.CompletedCount).
			Int("failed", batch.FailedCount).
			Msg("orchestrator: batch settled")
		if err := o.notifier.BatchCompleted(ctx, batch); err != nil {
			logger.Warn().Err(err).Msg("orchestrator: batch notification failed")
		}
	}
	return nil
}

func (o *Orchestrator) loadImage(ctx context.Context, key string) (provider.Image, error) {
	data, err := o.objects.Read(ctx, key)
	if err != nil {
		return provider.Image{}, fmt.Errorf("read working image: %w", err)
	}
	return provider.Image{Key: key, MIME: mimeForKey(key), Data: data}, nil
}

func finalKeyFor(job *domain.Job) string {
	ext := path.Ext(job.SourceKey)
	if ext == "" {
		ext = ".png"
	}
	return "final/" + job.ID + ext
}

func mimeForKey(key string) string {
	if mt := mime.TypeByExtension(path.Ext(key)); mt != "" {
		return mt
	}
	return "image/png"
}

var _ queue.Handler = (*Orchestrator)(nil)
