package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"photoflow/internal/domain"
)

// Dispatcher delivers terminal job signals to the client application.
// Delivery is best-effort: the orchestrator never rolls back job state on a
// notification failure.
type Dispatcher interface {
	JobCompleted(ctx context.Context, job *domain.Job) error
	BatchCompleted(ctx context.Context, batch *domain.BatchJob) error
}

// WebhookDispatcher POSTs JSON payloads to a configured endpoint.
type WebhookDispatcher struct {
	url        string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewWebhookDispatcher creates a dispatcher targeting url.
func NewWebhookDispatcher(url string, httpClient *http.Client, logger zerolog.Logger) *WebhookDispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookDispatcher{url: url, httpClient: httpClient, logger: logger}
}

type jobEvent struct {
	Type         string              `json:"type"`
	JobID        string              `json:"job_id"`
	UserID       string              `json:"user_id"`
	Status       string              `json:"status"`
	FinalKey     string              `json:"final_key,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Providers    domain.ProviderMeta `json:"providers"`
}

type batchEvent struct {
	Type           string `json:"type"`
	BatchID        string `json:"batch_id"`
	UserID         string `json:"user_id"`
	CompletedCount int    `json:"completed_count"`
	FailedCount    int    `json:"failed_count"`
	TotalCount     int    `json:"total_count"`
}

// JobCompleted reports a job's terminal transition.
func (d *WebhookDispatcher) JobCompleted(ctx context.Context, job *domain.Job) error {
	eventType := "job.completed"
	if job.Status == domain.JobStatusFailed {
		eventType = "job.failed"
	}
	return d.post(ctx, jobEvent{
		Type:         eventType,
		JobID:        job.ID,
		UserID:       job.UserID,
		Status:       string(job.Status),
		FinalKey:     job.FinalKey,
		ErrorMessage: job.ErrorMessage,
		Providers:    job.Providers,
	})
}

// BatchCompleted reports that every child of a batch settled.
func (d *WebhookDispatcher) BatchCompleted(ctx context.Context, batch *domain.BatchJob) error {
	return d.post(ctx, batchEvent{
		Type:           "batch.completed",
		BatchID:        batch.ID,
		UserID:         batch.UserID,
		CompletedCount: batch.CompletedCount,
		FailedCount:    batch.FailedCount,
		TotalCount:     batch.TotalCount,
	})
}

func (d *WebhookDispatcher) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: endpoint returned %d", resp.StatusCode)
	}
	d.logger.Debug().Str("url", d.url).Msg("notification delivered")
	return nil
}

// NopDispatcher drops every notification. Used when no webhook is configured.
type NopDispatcher struct{}

func (NopDispatcher) JobCompleted(context.Context, *domain.Job) error        { return nil }
func (NopDispatcher) BatchCompleted(context.Context, *domain.BatchJob) error { return nil }

var (
	_ Dispatcher = (*WebhookDispatcher)(nil)
	_ Dispatcher = NopDispatcher{}
)
