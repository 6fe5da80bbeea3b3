// Package jobs tracks the progress of every job the workers are draining:
// how many items settled, whether the job already started, and whether a
// cancel was requested. The in-memory Ledger serves a single process; the
// Redis and Postgres stores let the API and standalone workers share one view
// of each job.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

var (
	// ErrUnknownJob is returned for operations on a job the store never saw.
	ErrUnknownJob = errors.New("jobs: unknown job")
	// ErrJobFinished is returned when cancelling or reopening a job that already settled.
	ErrJobFinished = errors.New("jobs: job already finished")
	// ErrJobActive is returned when opening a job whose items are still being processed.
	ErrJobActive = errors.New("jobs: job is still active")
)

// Store is the shared bookkeeping of job progress. Every method is atomic
// per job across all processes using the same backend.
type Store interface {
	// Open registers a new job. A job already known fails with
	// ErrJobActive or ErrJobFinished.
	Open(ctx context.Context, jobID uuid.UUID, total int) error
	// Begin marks the job as started. First is true only for the first caller.
	Begin(ctx context.Context, jobID uuid.UUID, total int) (Start, error)
	// Settle counts one terminal item. Done is reported exactly once.
	Settle(ctx context.Context, jobID uuid.UUID, total int, succeeded bool) (Tally, error)
	Cancel(ctx context.Context, jobID uuid.UUID) error
	Cancelled(ctx context.Context, jobID uuid.UUID) (bool, error)
	// Reopen prepares a finished job for retrying count failed items.
	// counts seed the entry when the store no longer knows the job.
	Reopen(ctx context.Context, jobID uuid.UUID, counts domain.JobCounts, total, count int) (domain.JobCounts, error)
	// Drop forgets a job, used when its items never reached the queue.
	Drop(ctx context.Context, jobID uuid.UUID) error
}

// Start describes the first-item transition of a job.
type Start struct {
	First     bool
	StartedAt time.Time
}

// Tally is the state of a job right after one of its items settled.
type Tally struct {
	Total     int
	Completed int
	Failed    int
	Processed int
	Done      bool
	Cancelled bool
	StartedAt time.Time
}

// FinalStatus is only meaningful when Done is true.
func (t Tally) FinalStatus() domain.JobStatus {
	return domain.FinalStatus(t.Total, t.Failed, t.Cancelled)
}

// Counts converts the tally into the tracking-service payload.
func (t Tally) Counts(jobID uuid.UUID) domain.JobCounts {
	return domain.JobCounts{JobID: jobID, CompletedItems: t.Completed, FailedItems: t.Failed}
}
