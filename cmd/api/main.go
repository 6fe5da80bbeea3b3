package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/AndreVianna/VTTTools-sub035/internal/bootstrap"
	"github.com/AndreVianna/VTTTools-sub035/internal/http/handlers"
	httpapi "github.com/AndreVianna/VTTTools-sub035/internal/http/httpapi"
	"github.com/AndreVianna/VTTTools-sub035/internal/infra"
	"github.com/AndreVianna/VTTTools-sub035/internal/realtime"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build pipeline")
	}
	defer rt.Close()

	hub := realtime.NewHub(&logger)
	wk, err := rt.NewWorker(cfg, hub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build worker")
	}

	app := &handlers.App{
		Pipeline: rt.Pipeline(),
		Factory:  rt.Factory,
		Queue:    rt.Queue,
		Hub:      hub,
		Worker:   wk,
		Logger:   logger,
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, cfg.CORSAllowedOrigins))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return wk.Run(gctx)
	})
	g.Go(func() error {
		logger.Info().Str("queue", cfg.QueueBackend).Int("workers", cfg.WorkerCount).Msgf("API listening on :%s", cfg.Port)
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.HTTPIdleTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown server")
		}
		_ = rt.Queue.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("api stopped with error")
	}
	logger.Info().Msg("server stopped")
}
