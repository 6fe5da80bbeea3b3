package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

const (
	createTableSQL = `
CREATE TABLE IF NOT EXISTS generation_queue (
	id          BIGSERIAL PRIMARY KEY,
	job_id      UUID        NOT NULL,
	item_index  INTEGER     NOT NULL,
	payload     JSONB       NOT NULL,
	enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	insertItemSQL = `INSERT INTO generation_queue (job_id, item_index, payload) VALUES ($1, $2, $3)`
	claimItemSQL  = `
DELETE FROM generation_queue
WHERE id = (
	SELECT id FROM generation_queue
	ORDER BY id
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING payload`
	depthSQL = `SELECT count(*) FROM generation_queue`
)

// Postgres stores items in a table so they survive restarts and can be
// consumed by workers in other processes. Claiming deletes the row, so an
// item is delivered at most once.
type Postgres struct {
	pool         *pgxpool.Pool
	pollInterval time.Duration
	logger       zerolog.Logger
	closed       atomic.Bool
	done         chan struct{}
}

// NewPostgres creates the queue table when missing.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, pollInterval time.Duration, logger zerolog.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("queue: postgres pool is required")
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("queue: ensure table: %w", err)
	}
	return &Postgres{
		pool:         pool,
		pollInterval: pollInterval,
		logger:       logger.With().Str("component", "postgres-queue").Logger(),
		done:         make(chan struct{}),
	}, nil
}

// Enqueue implements Queue with one batched round trip.
func (q *Postgres) Enqueue(ctx context.Context, items ...domain.QueueItem) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, item := range items {
		raw, err := encode(item)
		if err != nil {
			return err
		}
		batch.Queue(insertItemSQL, item.JobID, item.Index, raw)
	}
	if err := q.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("queue: insert items: %w", err)
	}
	return nil
}

// Dequeue implements Queue by polling for the oldest unclaimed row.
func (q *Postgres) Dequeue(ctx context.Context) (domain.QueueItem, error) {
	for {
		if q.closed.Load() {
			return domain.QueueItem{}, ErrClosed
		}
		var raw []byte
		err := q.pool.QueryRow(ctx, claimItemSQL).Scan(&raw)
		switch {
		case err == nil:
			return decode(raw)
		case errors.Is(err, pgx.ErrNoRows):
		case ctx.Err() != nil:
			return domain.QueueItem{}, ctx.Err()
		default:
			q.logger.Warn().Err(err).Msg("claim failed; retrying after poll interval")
		}

		timer := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.QueueItem{}, ctx.Err()
		case <-q.done:
			timer.Stop()
			return domain.QueueItem{}, ErrClosed
		case <-timer.C:
		}
	}
}

// Close implements Queue. The pool is owned by the caller.
func (q *Postgres) Close() error {
	if q.closed.CompareAndSwap(false, true) {
		close(q.done)
	}
	return nil
}

// Depth implements Depther.
func (q *Postgres) Depth(ctx context.Context) (int64, error) {
	var n int64
	if err := q.pool.QueryRow(ctx, depthSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	return n, nil
}
