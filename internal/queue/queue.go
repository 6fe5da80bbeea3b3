// Package queue carries QueueItems from the producer to the workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained, and
// by Enqueue after Close.
var ErrClosed = errors.New("queue: closed")

// Queue is a FIFO of work items shared by producers and consumers.
type Queue interface {
	// Enqueue appends items without waiting for a consumer.
	Enqueue(ctx context.Context, items ...domain.QueueItem) error
	// Dequeue blocks until an item is available, ctx ends or the queue closes.
	Dequeue(ctx context.Context) (domain.QueueItem, error)
	// Close stops accepting items and releases waiting consumers.
	Close() error
}

// Depther is implemented by queues that can report how many items wait.
type Depther interface {
	Depth(ctx context.Context) (int64, error)
}

func encode(item domain.QueueItem) ([]byte, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("queue: encode item %s/%d: %w", item.JobID, item.Index, err)
	}
	return raw, nil
}

func decode(raw []byte) (domain.QueueItem, error) {
	var item domain.QueueItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return domain.QueueItem{}, fmt.Errorf("queue: decode item: %w", err)
	}
	return item, nil
}
