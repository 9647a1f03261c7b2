package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"photoflow/internal/adapter/repo"
	"photoflow/internal/http/handlers"
	"photoflow/internal/http/httpapi"
	"photoflow/internal/infra"
	"photoflow/internal/queue"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("api: schema migration failed")
	}

	store := repo.NewJobStore(pool)
	jobQueue := queue.NewPGQueue(pool, logger, queue.PGQueueOptions{
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		MaxReceiveCount:   cfg.QueueMaxReceiveCount,
	})

	app := handlers.NewApp(store, jobQueue, logger)
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
