// Package bootstrap assembles the pipeline from process configuration. Both
// binaries share it so the API's in-process worker and the standalone worker
// are wired the same way.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/AndreVianna/VTTTools-sub035/internal/clients"
	"github.com/AndreVianna/VTTTools-sub035/internal/config"
	"github.com/AndreVianna/VTTTools-sub035/internal/generation"
	"github.com/AndreVianna/VTTTools-sub035/internal/infra"
	"github.com/AndreVianna/VTTTools-sub035/internal/jobs"
	"github.com/AndreVianna/VTTTools-sub035/internal/pipeline"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers/elevenlabs"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers/genai"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers/openai"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers/qwen"
	"github.com/AndreVianna/VTTTools-sub035/internal/providers/stability"
	"github.com/AndreVianna/VTTTools-sub035/internal/queue"
	"github.com/AndreVianna/VTTTools-sub035/internal/storage"
	"github.com/AndreVianna/VTTTools-sub035/internal/worker"
)

// Runtime holds the long-lived collaborators of one process.
type Runtime struct {
	Settings  *config.Watcher
	Factory   *providers.Factory
	Queue     queue.Queue
	Ledger    jobs.Store
	Serial    *jobs.Serializer
	Jobs      *clients.JobsClient
	Resources generation.ResourceStore
	Links     *clients.AssetsClient

	logger  infra.Logger
	closers []func()
}

// Build connects every dependency named by cfg. Close releases them.
func Build(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Runtime, error) {
	rt := &Runtime{Serial: jobs.NewSerializer(), logger: logger}
	if err := rt.build(ctx, cfg); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context, cfg *infra.Config) error {
	settings, err := config.Load(cfg.ProvidersConfig, rt.logger)
	if err != nil {
		return err
	}
	settings.Watch(nil)
	rt.Settings = settings

	if rt.Factory, err = newFactory(cfg, settings, &rt.logger); err != nil {
		return err
	}
	if err := rt.newBackend(ctx, cfg); err != nil {
		return err
	}

	policy := clients.DefaultPolicy
	policy.MaxAttempts = cfg.ServiceMaxAttempts
	policy.Timeout = cfg.ServiceTimeout
	httpClient := &http.Client{Timeout: cfg.ServiceTimeout}
	opts := func(baseURL string) clients.Options {
		return clients.Options{BaseURL: baseURL, HTTPClient: httpClient, Policy: policy, Logger: &rt.logger}
	}

	if rt.Jobs, err = clients.NewJobsClient(opts(cfg.JobsServiceURL)); err != nil {
		return fmt.Errorf("jobs client: %w", err)
	}
	if rt.Links, err = clients.NewAssetsClient(opts(cfg.AssetsServiceURL)); err != nil {
		return fmt.Errorf("assets client: %w", err)
	}
	switch cfg.ResourceBackend {
	case infra.ResourcesFilesystem:
		path := cfg.StoragePath
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		store, err := storage.NewFileStore(path)
		if err != nil {
			return err
		}
		rt.logger.Warn().Str("path", path).Msg("resources are stored on the local filesystem")
		rt.Resources = store
	default:
		store, err := clients.NewResourcesClient(opts(cfg.ResourcesServiceURL))
		if err != nil {
			return fmt.Errorf("resources client: %w", err)
		}
		rt.Resources = store
	}
	return nil
}

func newFactory(cfg *infra.Config, settings config.Source, logger *infra.Logger) (*providers.Factory, error) {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	gemini, err := genai.NewClient(genai.Options{Settings: settings, HTTPClient: httpClient, Logger: logger})
	if err != nil {
		return nil, err
	}
	stab, err := stability.NewClient(stability.Options{Settings: settings, HTTPClient: httpClient, Logger: logger})
	if err != nil {
		return nil, err
	}
	oai, err := openai.NewClient(openai.Options{Settings: settings, HTTPClient: httpClient, Logger: logger, Organization: cfg.OpenAIOrg})
	if err != nil {
		return nil, err
	}
	qw, err := qwen.NewClient(qwen.Options{
		Settings:     settings,
		PromptExtend: cfg.QwenPromptExt,
		Watermark:    cfg.QwenWatermark,
		HTTPClient:   httpClient,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	eleven, err := elevenlabs.NewClient(elevenlabs.Options{Settings: settings, HTTPClient: httpClient, Logger: logger})
	if err != nil {
		return nil, err
	}
	return providers.NewFactory(settings, gemini, stab, oai, qw, eleven)
}

// newBackend picks the queue and the job ledger. Durable queues get a ledger
// on the same backend so every process consuming them shares job progress.
func (rt *Runtime) newBackend(ctx context.Context, cfg *infra.Config) error {
	switch cfg.QueueBackend {
	case infra.QueuePostgres:
		pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, pool.Close)
		q, err := queue.NewPostgres(ctx, pool, cfg.QueuePollInterval, rt.logger)
		if err != nil {
			return err
		}
		ledger, err := jobs.NewPostgresStore(ctx, pool, cfg.JobRetention)
		if err != nil {
			return err
		}
		rt.Queue, rt.Ledger = q, ledger
	case infra.QueueRedis:
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		q, err := queue.NewRedis(client, cfg.RedisQueueKey, 0)
		if err != nil {
			return err
		}
		ledger, err := jobs.NewRedisStore(client, cfg.RedisQueueKey+":job", cfg.JobRetention)
		if err != nil {
			return err
		}
		rt.Queue, rt.Ledger = q, ledger
	default:
		rt.Queue, rt.Ledger = queue.NewMemory(), jobs.NewLedger(cfg.JobRetention)
	}
	return nil
}

// HandlerFactory returns a worker.HandlerFactory producing a fresh handler
// per item. progress may be nil.
func (rt *Runtime) HandlerFactory(progress generation.ProgressSink) worker.HandlerFactory {
	deps := generation.Deps{
		Factory:   rt.Factory,
		Ledger:    rt.Ledger,
		Serial:    rt.Serial,
		Tracker:   rt.Jobs,
		Resources: rt.Resources,
		Links:     rt.Links,
		Progress:  progress,
		Logger:    &rt.logger,
		Now:       time.Now,
	}
	return func() worker.ItemHandler { return generation.New(deps) }
}

// Pipeline returns the producer over the runtime's queue and ledger.
func (rt *Runtime) Pipeline() *pipeline.Service {
	return pipeline.NewService(rt.Queue, rt.Ledger, rt.Jobs, &rt.logger)
}

// NewWorker builds the consumer pool over the runtime's queue.
func (rt *Runtime) NewWorker(cfg *infra.Config, progress generation.ProgressSink) (*worker.Worker, error) {
	return worker.New(worker.Options{
		Queue:       rt.Queue,
		NewHandler:  rt.HandlerFactory(progress),
		Concurrency: cfg.WorkerCount,
		ItemTimeout: cfg.ItemTimeout,
		Logger:      &rt.logger,
	})
}

// Close stops the queue and releases connections in reverse order.
func (rt *Runtime) Close() {
	if rt.Queue != nil {
		if err := rt.Queue.Close(); err != nil && !errors.Is(err, queue.ErrClosed) {
			rt.logger.Warn().Err(err).Msg("queue close failed")
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// Ensure the concrete stores satisfy the handler contract.
var (
	_ generation.ResourceStore = (*storage.FileStore)(nil)
	_ generation.ResourceStore = (*clients.ResourcesClient)(nil)
	_ generation.EntityLinker  = (*clients.AssetsClient)(nil)
	_ generation.JobTracker    = (*clients.JobsClient)(nil)
	_ pipeline.Tracker         = (*clients.JobsClient)(nil)
)
