package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

const (
	createLedgerSQL = `
CREATE TABLE IF NOT EXISTS generation_job_ledger (
	job_id     UUID PRIMARY KEY,
	total      INTEGER     NOT NULL,
	completed  INTEGER     NOT NULL DEFAULT 0,
	failed     INTEGER     NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ,
	cancelled  BOOLEAN     NOT NULL DEFAULT false,
	finished   BOOLEAN     NOT NULL DEFAULT false,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	pruneLedgerSQL  = `DELETE FROM generation_job_ledger WHERE finished AND updated_at < $1`
	openLedgerSQL   = `INSERT INTO generation_job_ledger (job_id, total) VALUES ($1, $2) ON CONFLICT (job_id) DO NOTHING RETURNING true`
	finishedSQL     = `SELECT finished FROM generation_job_ledger WHERE job_id = $1`
	ensureLedgerSQL = `
INSERT INTO generation_job_ledger (job_id, total) VALUES ($1, $2)
ON CONFLICT (job_id) DO UPDATE
SET total = GREATEST(generation_job_ledger.total, EXCLUDED.total), updated_at = now()`
	beginLedgerSQL = `
WITH prev AS (SELECT started_at FROM generation_job_ledger WHERE job_id = $1 FOR UPDATE)
UPDATE generation_job_ledger l
SET started_at = COALESCE(prev.started_at, $2), updated_at = now()
FROM prev
WHERE l.job_id = $1
RETURNING l.started_at, prev.started_at IS NULL`
	settleLedgerSQL = `
WITH prev AS (SELECT finished FROM generation_job_ledger WHERE job_id = $1 FOR UPDATE)
UPDATE generation_job_ledger l
SET completed  = l.completed + $2,
    failed     = l.failed + $3,
    finished   = l.finished OR l.completed + l.failed + 1 >= l.total,
    updated_at = now()
FROM prev
WHERE l.job_id = $1
RETURNING l.total, l.completed, l.failed, l.cancelled, l.started_at, l.finished AND NOT prev.finished`
	cancelLedgerSQL    = `UPDATE generation_job_ledger SET cancelled = true, updated_at = now() WHERE job_id = $1 AND NOT finished RETURNING true`
	cancelledLedgerSQL = `SELECT cancelled FROM generation_job_ledger WHERE job_id = $1`
	seedLedgerSQL      = `
INSERT INTO generation_job_ledger (job_id, total, completed, failed) VALUES ($1, $2, $3, $4)
ON CONFLICT (job_id) DO NOTHING`
	reopenLedgerSQL = `
UPDATE generation_job_ledger
SET failed = GREATEST(failed - $2, 0), started_at = NULL, cancelled = false, finished = false, updated_at = now()
WHERE job_id = $1
RETURNING completed, failed`
	dropLedgerSQL = `DELETE FROM generation_job_ledger WHERE job_id = $1`
)

// PostgresStore keeps one row per job, updated under a row lock, so the API
// and every worker process share the same counters and cancel flag.
type PostgresStore struct {
	pool      *pgxpool.Pool
	retention time.Duration
	now       func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates the ledger table when missing.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, retention time.Duration) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("jobs: postgres pool is required")
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if _, err := pool.Exec(ctx, createLedgerSQL); err != nil {
		return nil, fmt.Errorf("jobs: ensure ledger table: %w", err)
	}
	return &PostgresStore{pool: pool, retention: retention, now: time.Now}, nil
}

// Open implements Store. Finished jobs past retention are pruned first.
func (s *PostgresStore) Open(ctx context.Context, jobID uuid.UUID, total int) error {
	if _, err := s.pool.Exec(ctx, pruneLedgerSQL, s.now().Add(-s.retention)); err != nil {
		return fmt.Errorf("jobs: prune: %w", err)
	}
	var opened bool
	err := s.pool.QueryRow(ctx, openLedgerSQL, jobID, total).Scan(&opened)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("jobs: open %s: %w", jobID, err)
	}
	var finished bool
	if err := s.pool.QueryRow(ctx, finishedSQL, jobID).Scan(&finished); err != nil {
		return fmt.Errorf("jobs: open %s: %w", jobID, err)
	}
	if finished {
		return ErrJobFinished
	}
	return ErrJobActive
}

// Begin implements Store.
func (s *PostgresStore) Begin(ctx context.Context, jobID uuid.UUID, total int) (Start, error) {
	var start Start
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ensureLedgerSQL, jobID, total); err != nil {
			return err
		}
		return tx.QueryRow(ctx, beginLedgerSQL, jobID, s.now().UTC()).Scan(&start.StartedAt, &start.First)
	})
	if err != nil {
		return Start{}, fmt.Errorf("jobs: begin %s: %w", jobID, err)
	}
	return start, nil
}

// Settle implements Store.
func (s *PostgresStore) Settle(ctx context.Context, jobID uuid.UUID, total int, succeeded bool) (Tally, error) {
	completed, failed := 0, 1
	if succeeded {
		completed, failed = 1, 0
	}
	var (
		t         Tally
		startedAt *time.Time
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ensureLedgerSQL, jobID, total); err != nil {
			return err
		}
		return tx.QueryRow(ctx, settleLedgerSQL, jobID, completed, failed).
			Scan(&t.Total, &t.Completed, &t.Failed, &t.Cancelled, &startedAt, &t.Done)
	})
	if err != nil {
		return Tally{}, fmt.Errorf("jobs: settle %s: %w", jobID, err)
	}
	t.Processed = t.Completed + t.Failed
	if startedAt != nil {
		t.StartedAt = startedAt.UTC()
	}
	return t, nil
}

// Cancel implements Store.
func (s *PostgresStore) Cancel(ctx context.Context, jobID uuid.UUID) error {
	var flagged bool
	err := s.pool.QueryRow(ctx, cancelLedgerSQL, jobID).Scan(&flagged)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("jobs: cancel %s: %w", jobID, err)
	}
	var finished bool
	err = s.pool.QueryRow(ctx, finishedSQL, jobID).Scan(&finished)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrUnknownJob
	case err != nil:
		return fmt.Errorf("jobs: cancel %s: %w", jobID, err)
	}
	return ErrJobFinished
}

// Cancelled implements Store.
func (s *PostgresStore) Cancelled(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var cancelled bool
	err := s.pool.QueryRow(ctx, cancelledLedgerSQL, jobID).Scan(&cancelled)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("jobs: cancelled %s: %w", jobID, err)
	}
	return cancelled, nil
}

// Reopen implements Store.
func (s *PostgresStore) Reopen(ctx context.Context, jobID uuid.UUID, counts domain.JobCounts, total, count int) (domain.JobCounts, error) {
	out := domain.JobCounts{JobID: jobID}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, seedLedgerSQL, jobID, total, counts.CompletedItems, counts.FailedItems); err != nil {
			return err
		}
		return tx.QueryRow(ctx, reopenLedgerSQL, jobID, count).Scan(&out.CompletedItems, &out.FailedItems)
	})
	if err != nil {
		return domain.JobCounts{}, fmt.Errorf("jobs: reopen %s: %w", jobID, err)
	}
	return out, nil
}

// Drop implements Store.
func (s *PostgresStore) Drop(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, dropLedgerSQL, jobID); err != nil {
		return fmt.Errorf("jobs: drop %s: %w", jobID, err)
	}
	return nil
}
