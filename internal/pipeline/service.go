// Package pipeline is the producer side of the job pipeline: it turns a job
// created in the tracking service into queue items, and handles cancel and
// retry requests.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/infra"
	"github.com/AndreVianna/VTTTools-sub035/internal/jobs"
	"github.com/AndreVianna/VTTTools-sub035/internal/queue"
)

var (
	// ErrNoItems is returned when an enqueue request carries no work.
	ErrNoItems = errors.New("pipeline: no items to enqueue")
	// ErrNothingToRetry is returned when a job has no failed items.
	ErrNothingToRetry = errors.New("pipeline: job has no failed items")
	// ErrJobActive is returned when enqueuing or retrying a job that is
	// still running.
	ErrJobActive = jobs.ErrJobActive
)

// Tracker is the slice of the job-tracking service the producer needs.
type Tracker interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
	UpdateItemStatus(ctx context.Context, update domain.ItemStatusUpdate) error
	UpdateJobCounts(ctx context.Context, counts domain.JobCounts) error
	UpdateJobStatus(ctx context.Context, update domain.JobStatusUpdate) error
}

// EnqueueRequest lists the work of a job created in the tracking service.
type EnqueueRequest struct {
	JobType string            `json:"jobType" validate:"max=100"`
	OwnerID uuid.UUID         `json:"ownerId"`
	Items   []domain.WorkSpec `json:"items" validate:"required,min=1,dive"`
}

// Service enqueues, cancels and retries jobs.
type Service struct {
	queue   queue.Queue
	ledger  jobs.Store
	tracker Tracker
	now     func() time.Time
	logger  zerolog.Logger
}

// NewService wires the producer.
func NewService(q queue.Queue, ledger jobs.Store, tracker Tracker, logger *infra.Logger) *Service {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "pipeline").Logger()
	}
	return &Service{queue: q, ledger: ledger, tracker: tracker, now: time.Now, logger: l}
}

// Enqueue validates every item and hands them to the queue in index order.
// It never waits for a consumer. A job the ledger already holds is rejected
// so its items are not counted twice.
func (s *Service) Enqueue(ctx context.Context, jobID uuid.UUID, req EnqueueRequest) (int, error) {
	if jobID == uuid.Nil {
		return 0, fmt.Errorf("%w: job id is required", domain.ErrInvalidWorkItem)
	}
	if len(req.Items) == 0 {
		return 0, ErrNoItems
	}
	if err := domain.ValidateStruct(req); err != nil {
		return 0, err
	}
	now := s.now().UTC()
	total := len(req.Items)
	items := make([]domain.QueueItem, 0, total)
	for i, work := range req.Items {
		items = append(items, domain.QueueItem{
			JobID:      jobID,
			JobType:    req.JobType,
			Index:      i,
			TotalItems: total,
			OwnerID:    req.OwnerID,
			Work:       work,
			EnqueuedAt: now,
		})
	}
	if err := s.ledger.Open(ctx, jobID, total); err != nil {
		return 0, fmt.Errorf("pipeline: enqueue job %s: %w", jobID, err)
	}
	if err := s.queue.Enqueue(ctx, items...); err != nil {
		if dropErr := s.ledger.Drop(context.WithoutCancel(ctx), jobID); dropErr != nil {
			s.logger.Warn().Err(dropErr).Str("job_id", jobID.String()).Msg("pipeline: drop ledger entry")
		}
		return 0, fmt.Errorf("pipeline: enqueue job %s: %w", jobID, err)
	}
	s.logger.Info().Str("job_id", jobID.String()).Int("items", total).Msg("pipeline: job enqueued")
	return total, nil
}

// Cancel flags the job; items not yet started are marked Failed by the
// handler without calling a provider.
func (s *Service) Cancel(ctx context.Context, jobID uuid.UUID) error {
	if err := s.ledger.Cancel(ctx, jobID); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	s.logger.Info().Str("job_id", jobID.String()).Msg("pipeline: job cancel requested")
	return nil
}

// Retry re-enqueues the failed items of a finished job. It returns how many
// items were queued again.
func (s *Service) Retry(ctx context.Context, jobID uuid.UUID) (int, error) {
	job, err := s.tracker.GetJob(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("retry job %s: %w", jobID, err)
	}
	if !job.Status.IsTerminal() {
		return 0, fmt.Errorf("retry job %s: %w", jobID, ErrJobActive)
	}

	now := s.now().UTC()
	total := job.TotalItems
	if total < len(job.Items) {
		total = len(job.Items)
	}
	var items []domain.QueueItem
	for _, it := range job.Items {
		if it.Status != domain.JobItemStatusFailed {
			continue
		}
		var work domain.WorkSpec
		if err := json.Unmarshal(it.Input, &work); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID.String()).Int("index", it.Index).Msg("pipeline: skipping item with unreadable input")
			continue
		}
		if err := work.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID.String()).Int("index", it.Index).Msg("pipeline: skipping invalid item")
			continue
		}
		items = append(items, domain.QueueItem{
			JobID:      jobID,
			JobType:    job.Type,
			Index:      it.Index,
			TotalItems: total,
			OwnerID:    job.OwnerID,
			Work:       work,
			EnqueuedAt: now,
		})
	}
	if len(items) == 0 {
		return 0, fmt.Errorf("retry job %s: %w", jobID, ErrNothingToRetry)
	}

	for _, it := range items {
		if err := s.tracker.UpdateItemStatus(ctx, domain.ItemStatusUpdate{
			JobID:  jobID,
			Index:  it.Index,
			Status: domain.JobItemStatusPending,
		}); err != nil {
			return 0, fmt.Errorf("retry job %s: reset item %d: %w", jobID, it.Index, err)
		}
	}
	counts, err := s.ledger.Reopen(ctx, jobID, domain.JobCounts{
		JobID:          jobID,
		CompletedItems: job.CompletedItems,
		FailedItems:    job.FailedItems,
	}, total, len(items))
	if err != nil {
		return 0, fmt.Errorf("retry job %s: %w", jobID, err)
	}
	if err := s.tracker.UpdateJobCounts(ctx, counts); err != nil {
		return 0, fmt.Errorf("retry job %s: reset counts: %w", jobID, err)
	}
	if err := s.tracker.UpdateJobStatus(ctx, domain.JobStatusUpdate{JobID: jobID, Status: domain.JobStatusPending}); err != nil {
		return 0, fmt.Errorf("retry job %s: reset status: %w", jobID, err)
	}
	if err := s.queue.Enqueue(ctx, items...); err != nil {
		return 0, fmt.Errorf("retry job %s: %w", jobID, err)
	}
	s.logger.Info().Str("job_id", jobID.String()).Int("items", len(items)).Msg("pipeline: job retried")
	return len(items), nil
}
