package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

// DefaultRedisKey is the list that holds pending items.
const DefaultRedisKey = "genpipe:queue"

// Redis keeps items in a Redis list: RPUSH to enqueue, BLPOP to dequeue.
type Redis struct {
	client      redis.UniversalClient
	key         string
	blockWindow time.Duration
	closed      atomic.Bool
}

// NewRedis wraps an existing client. blockWindow bounds each BLPOP so Close
// and context cancellation are noticed promptly.
func NewRedis(client redis.UniversalClient, key string, blockWindow time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("queue: redis client is required")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	if blockWindow <= 0 {
		blockWindow = 5 * time.Second
	}
	return &Redis{client: client, key: key, blockWindow: blockWindow}, nil
}

// Enqueue implements Queue.
func (q *Redis) Enqueue(ctx context.Context, items ...domain.QueueItem) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if len(items) == 0 {
		return nil
	}
	values := make([]any, 0, len(items))
	for _, item := range items {
		raw, err := encode(item)
		if err != nil {
			return err
		}
		values = append(values, raw)
	}
	if err := q.client.RPush(ctx, q.key, values...).Err(); err != nil {
		return fmt.Errorf("queue: rpush: %w", err)
	}
	return nil
}

// Dequeue implements Queue.
func (q *Redis) Dequeue(ctx context.Context) (domain.QueueItem, error) {
	for {
		if q.closed.Load() {
			return domain.QueueItem{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return domain.QueueItem{}, err
		}
		res, err := q.client.BLPop(ctx, q.blockWindow, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return domain.QueueItem{}, ctx.Err()
			}
			return domain.QueueItem{}, fmt.Errorf("queue: blpop: %w", err)
		}
		// BLPOP answers [key, value].
		if len(res) != 2 {
			return domain.QueueItem{}, fmt.Errorf("queue: unexpected blpop reply of %d elements", len(res))
		}
		return decode([]byte(res[1]))
	}
}

// Close implements Queue. The client is owned by the caller.
func (q *Redis) Close() error {
	q.closed.Store(true)
	return nil
}

// Depth implements Depther.
func (q *Redis) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: llen: %w", err)
	}
	return n, nil
}
