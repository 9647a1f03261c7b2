package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"photoflow/internal/adapter/repo"
	"photoflow/internal/infra"
	"photoflow/internal/notify"
	"photoflow/internal/orchestrator"
	"photoflow/internal/provider"
	"photoflow/internal/queue"
	"photoflow/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("worker: schema migration failed")
	}
	store := repo.NewJobStore(pool)

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	factory, err := provider.NewFactory(provider.FactoryConfig{
		Analysis: cfg.AnalysisProvider,
		Editing:  cfg.EditingProvider,
		Retry: provider.Policy{
			MaxAttempts: cfg.ProviderMaxAttempts,
			BaseDelay:   cfg.ProviderRetryBase,
			Multiplier:  2.0,
			Jitter:      0.2,
		},
		CallTimeout: cfg.ProviderCallTimeout,
	}, buildRegistry(cfg, logger))
	if err != nil {
		// Misconfigured providers are fatal at startup, never per message.
		logger.Fatal().Err(err).Msg("worker: provider configuration invalid")
	}

	var dispatcher notify.Dispatcher = notify.NopDispatcher{}
	if cfg.WebhookURL != "" {
		dispatcher = notify.NewWebhookDispatcher(cfg.WebhookURL, nil, logger)
	} else {
		logger.Warn().Msg("worker: no webhook configured, notifications disabled")
	}

	jobQueue := queue.NewPGQueue(pool, logger, queue.PGQueueOptions{
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		MaxReceiveCount:   cfg.QueueMaxReceiveCount,
	})

	orc := orchestrator.New(store, fileStore, factory, dispatcher, logger)
	consumer := queue.NewConsumer(jobQueue, orc, logger, queue.ConsumerOptions{
		BatchSize:    cfg.QueueBatchSize,
		PollInterval: cfg.QueuePollInterval,
	})

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 30s", func() {
		sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := jobQueue.SweepDeadLetters(sweepCtx); err != nil {
			logger.Error().Err(err).Msg("worker: dead-letter sweep failed")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to schedule dead-letter sweep")
	}
	if _, err := scheduler.AddFunc("@every 5m", func() {
		countCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		count, err := jobQueue.DeadLetterCount(countCtx)
		if err != nil {
			logger.Error().Err(err).Msg("worker: dead-letter count failed")
			return
		}
		if count > 0 {
			logger.Warn().Int("count", count).Msg("worker: dead-letter backlog present")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to schedule dead-letter report")
	}
	scheduler.Start()
	defer scheduler.Stop()

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func buildRegistry(cfg *infra.Config, logger infra.Logger) provider.Registry {
	httpClient := &http.Client{Timeout: cfg.ProviderCallTimeout}

	gemini := provider.NewGemini(provider.GeminiOptions{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	openai := provider.NewOpenAI(provider.OpenAIOptions{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Model:        cfg.OpenAIModel,
		Organization: cfg.OpenAIOrg,
		HTTPClient:   httpClient,
		Logger:       logger,
	})
	qwen := provider.NewQwen(provider.QwenOptions{
		APIKey:     cfg.QwenAPIKey,
		BaseURL:    cfg.QwenBaseURL,
		Model:      cfg.QwenModel,
		HTTPClient: httpClient,
		Logger:     logger,
	})

	return provider.Registry{
		Analyzers: map[string]provider.Analyzer{
			"gemini": gemini,
			"openai": openai,
		},
		Editors: map[string]provider.Editor{
			"gemini": gemini,
			"qwen":   qwen,
		},
	}
}
