package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/queue"
)

type funcHandler func(ctx context.Context, item domain.QueueItem) error

func (f funcHandler) Handle(ctx context.Context, item domain.QueueItem) error { return f(ctx, item) }

func items(n int) []domain.QueueItem {
	jobID := uuid.New()
	out := make([]domain.QueueItem, n)
	for i := range out {
		out[i] = domain.QueueItem{JobID: jobID, Index: i, TotalItems: n}
	}
	return out
}

func TestWorkerSurvivesPanicsAndErrors(t *testing.T) {
	q := queue.NewMemory()
	var (
		mu   sync.Mutex
		seen = map[int]bool{}
	)
	w, err := New(Options{
		Queue:       q,
		Concurrency: 3,
		NewHandler: func() ItemHandler {
			return funcHandler(func(_ context.Context, item domain.QueueItem) error {
				mu.Lock()
				seen[item.Index] = true
				mu.Unlock()
				switch item.Index % 3 {
				case 0:
					panic("provider exploded")
				case 1:
					return errors.New("provider failed")
				}
				return nil
			})
		},
	})
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(context.Background(), items(30)...))
	require.NoError(t, q.Close())
	require.NoError(t, w.Run(context.Background()))

	assert.Len(t, seen, 30)
	stats := w.Stats()
	assert.EqualValues(t, 30, stats.Processed)
	assert.EqualValues(t, 20, stats.Failed)
	assert.EqualValues(t, 10, stats.Panics)
}

func TestWorkerFreshHandlerPerItem(t *testing.T) {
	q := queue.NewMemory()
	var created atomic.Int32
	w, err := New(Options{
		Queue: q,
		NewHandler: func() ItemHandler {
			created.Add(1)
			return funcHandler(func(context.Context, domain.QueueItem) error { return nil })
		},
	})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), items(5)...))
	require.NoError(t, q.Close())
	require.NoError(t, w.Run(context.Background()))
	assert.EqualValues(t, 5, created.Load())
}

func TestWorkerAppliesItemTimeout(t *testing.T) {
	q := queue.NewMemory()
	w, err := New(Options{
		Queue:       q,
		ItemTimeout: 20 * time.Millisecond,
		NewHandler: func() ItemHandler {
			return funcHandler(func(ctx context.Context, _ domain.QueueItem) error {
				<-ctx.Done()
				return ctx.Err()
			})
		},
	})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), items(2)...))
	require.NoError(t, q.Close())

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not honour the item timeout")
	}
	assert.EqualValues(t, 2, w.Stats().Failed)
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	q := queue.NewMemory()
	w, err := New(Options{
		Queue:       q,
		Concurrency: 2,
		NewHandler: func() ItemHandler {
			return funcHandler(func(context.Context, domain.QueueItem) error { return nil })
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, q.Enqueue(context.Background(), items(1)...))
	require.Eventually(t, func() bool { return w.Stats().Processed == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

type flakyQueue struct {
	queue.Queue
	failures atomic.Int32
}

func (f *flakyQueue) Dequeue(ctx context.Context) (domain.QueueItem, error) {
	if f.failures.Add(-1) >= 0 {
		return domain.QueueItem{}, errors.New("connection reset")
	}
	return f.Queue.Dequeue(ctx)
}

func TestWorkerBacksOffOnDequeueErrors(t *testing.T) {
	inner := queue.NewMemory()
	q := &flakyQueue{Queue: inner}
	q.failures.Store(2)
	w, err := New(Options{
		Queue:        q,
		ErrorBackoff: time.Millisecond,
		NewHandler: func() ItemHandler {
			return funcHandler(func(context.Context, domain.QueueItem) error { return nil })
		},
	})
	require.NoError(t, err)
	require.NoError(t, inner.Enqueue(context.Background(), items(1)...))
	require.NoError(t, inner.Close())
	require.NoError(t, w.Run(context.Background()))
	assert.EqualValues(t, 1, w.Stats().Processed)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Queue: queue.NewMemory()})
	assert.Error(t, err)
}
