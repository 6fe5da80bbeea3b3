package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/AndreVianna/VTTTools-sub035/internal/bootstrap"
	"github.com/AndreVianna/VTTTools-sub035/internal/infra"
)

// The standalone worker consumes a durable queue filled by the API. Progress
// reaches clients through the tracking service only; the websocket hub lives
// in the API process.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	if cfg.QueueBackend == infra.QueueMemory {
		logger.Fatal().Msg("worker: QUEUE_BACKEND must be postgres or redis for a standalone worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build pipeline")
	}
	defer rt.Close()

	wk, err := rt.NewWorker(cfg, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build worker")
	}

	logger.Info().Str("queue", cfg.QueueBackend).Msg("worker: consuming")
	if err := wk.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
	}
}
