package queue

import (
	"context"
	"sync"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

// Memory is an unbounded in-process FIFO. Items are lost when the process
// exits.
type Memory struct {
	mu     sync.Mutex
	items  []domain.QueueItem
	closed bool
	signal chan struct{}
	done   chan struct{}
}

// NewMemory creates an empty queue.
func NewMemory() *Memory {
	return &Memory{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue implements Queue. It never blocks on consumers.
func (q *Memory) Enqueue(_ context.Context, items ...domain.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, items...)
	q.mu.Unlock()
	q.wake()
	return nil
}

// Dequeue implements Queue. Items left at Close are still handed out before
// ErrClosed is returned.
func (q *Memory) Dequeue(ctx context.Context) (domain.QueueItem, error) {
	for {
		q.mu.Lock()
		if n := len(q.items); n > 0 {
			item := q.items[0]
			q.items[0] = domain.QueueItem{}
			q.items = q.items[1:]
			q.mu.Unlock()
			if n > 1 {
				q.wake()
			}
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return domain.QueueItem{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return domain.QueueItem{}, ctx.Err()
		case <-q.signal:
		case <-q.done:
		}
	}
}

// Close implements Queue.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// Depth implements Depther.
func (q *Memory) Depth(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// wake lets one waiting consumer re-check the queue.
func (q *Memory) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
