// Package worker drains the job queue with a fixed pool of consumer loops.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/infra"
	"github.com/AndreVianna/VTTTools-sub035/internal/queue"
)

// ItemHandler processes one queue item.
type ItemHandler interface {
	Handle(ctx context.Context, item domain.QueueItem) error
}

// HandlerFactory returns a fresh handler for every dequeued item.
type HandlerFactory func() ItemHandler

// Options configures a Worker.
type Options struct {
	Queue        queue.Queue
	NewHandler   HandlerFactory
	Concurrency  int
	ItemTimeout  time.Duration
	ErrorBackoff time.Duration
	Logger       *infra.Logger
}

// Stats are cumulative counters since start.
type Stats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// Worker runs the consumer loops.
type Worker struct {
	queue        queue.Queue
	newHandler   HandlerFactory
	concurrency  int
	itemTimeout  time.Duration
	errorBackoff time.Duration
	logger       zerolog.Logger

	processed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// New validates options and applies defaults.
func New(opts Options) (*Worker, error) {
	if opts.Queue == nil {
		return nil, errors.New("worker: queue is required")
	}
	if opts.NewHandler == nil {
		return nil, errors.New("worker: handler factory is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = 10 * time.Minute
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "worker").Logger()
	}
	return &Worker{
		queue:        opts.Queue,
		newHandler:   opts.NewHandler,
		concurrency:  opts.Concurrency,
		itemTimeout:  opts.ItemTimeout,
		errorBackoff: opts.ErrorBackoff,
		logger:       logger,
	}, nil
}

// Run blocks until ctx ends or the queue is closed and drained. Item failures
// and panics never stop a loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Int("concurrency", w.concurrency).Msg("worker: started")
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		loop := i
		g.Go(func() error { return w.consume(ctx, loop) })
	}
	err := g.Wait()
	w.logger.Info().Int64("processed", w.processed.Load()).Int64("failed", w.failed.Load()).Msg("worker: stopped")
	return err
}

// Stats returns a snapshot of the counters.
func (w *Worker) Stats() Stats {
	return Stats{Processed: w.processed.Load(), Failed: w.failed.Load(), Panics: w.panics.Load()}
}

func (w *Worker) consume(ctx context.Context, loop int) error {
	log := w.logger.With().Int("loop", loop).Logger()
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrClosed):
				return nil
			case ctx.Err() != nil:
				return nil
			}
			log.Error().Err(err).Msg("worker: dequeue failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.errorBackoff):
			}
			continue
		}
		w.process(ctx, item, log)
	}
}

func (w *Worker) process(ctx context.Context, item domain.QueueItem, log zerolog.Logger) {
	log = log.With().Str("job_id", item.JobID.String()).Int("index", item.Index).Logger()
	itemCtx, cancel := context.WithTimeout(ctx, w.itemTimeout)
	defer cancel()
	defer w.processed.Add(1)

	if err := w.safeHandle(itemCtx, item); err != nil {
		w.failed.Add(1)
		log.Warn().Err(err).Msg("worker: item failed")
		return
	}
	log.Debug().Msg("worker: item done")
}

func (w *Worker) safeHandle(ctx context.Context, item domain.QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			w.logger.Error().
				Str("job_id", item.JobID.String()).
				Int("index", item.Index).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker: handler panicked")
			err = fmt.Errorf("worker: handler panic: %v", r)
		}
	}()
	return w.newHandler().Handle(ctx, item)
}
