package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"photoflow/internal/domain"
)

// Enqueuer publishes a processing message for a job.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID, traceID string) (string, error)
}

// App bundles the dependencies shared by all HTTP handlers.
type App struct {
	store  domain.JobStore
	queue  Enqueuer
	logger zerolog.Logger
}

// NewApp builds the handler container.
func NewApp(store domain.JobStore, queue Enqueuer, logger zerolog.Logger) *App {
	return &App{store: store, queue: queue, logger: logger}
}

func (a *App) json(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error().Err(err).Msg("handlers: encode response failed")
	}
}

func (a *App) error(w http.ResponseWriter, status int, message string) {
	a.json(w, status, map[string]string{"error": message})
}
