package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending         JobStatus = "Pending"
	JobStatusRunning         JobStatus = "Running"
	JobStatusCompleted       JobStatus = "Completed"
	JobStatusFailed          JobStatus = "Failed"
	JobStatusPartiallyFailed JobStatus = "PartiallyFailed"
	JobStatusCancelled       JobStatus = "Cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusPartiallyFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobItemStatus enumerates the lifecycle of a single unit of work.
type JobItemStatus string

const (
	JobItemStatusPending    JobItemStatus = "Pending"
	JobItemStatusInProgress JobItemStatus = "InProgress"
	JobItemStatusCompleted  JobItemStatus = "Completed"
	JobItemStatusFailed     JobItemStatus = "Failed"
)

// IsTerminal reports whether the item reached Completed or Failed.
func (s JobItemStatus) IsTerminal() bool {
	return s == JobItemStatusCompleted || s == JobItemStatusFailed
}

// Job mirrors the record owned by the job-tracking service.
type Job struct {
	ID                  uuid.UUID       `json:"id"`
	Type                string          `json:"type"`
	OwnerID             uuid.UUID       `json:"ownerId"`
	Status              JobStatus       `json:"status"`
	TotalItems          int             `json:"totalItems"`
	CompletedItems      int             `json:"completedItems"`
	FailedItems         int             `json:"failedItems"`
	Input               json.RawMessage `json:"inputJson,omitempty"`
	EstimatedDurationMs *int64          `json:"estimatedDurationMs,omitempty"`
	ActualDurationMs    *int64          `json:"actualDurationMs,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	StartedAt           *time.Time      `json:"startedAt,omitempty"`
	CompletedAt         *time.Time      `json:"completedAt,omitempty"`
	Items               []JobItem       `json:"items"`
}

// JobItem is one unit of work inside a Job.
type JobItem struct {
	ID           uuid.UUID       `json:"id"`
	JobID        uuid.UUID       `json:"jobId"`
	Index        int             `json:"index"`
	Status       JobItemStatus   `json:"status"`
	Input        json.RawMessage `json:"inputJson,omitempty"`
	Output       json.RawMessage `json:"outputJson,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// ItemStatusUpdate is pushed to the tracking service on every item transition.
type ItemStatusUpdate struct {
	JobID        uuid.UUID       `json:"jobId"`
	Index        int             `json:"index"`
	Status       JobItemStatus   `json:"status"`
	Output       json.RawMessage `json:"outputJson,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// JobStatusUpdate is pushed when the job starts and when it becomes terminal.
// The terminal update carries the final counters so they win over any
// count update still in flight.
type JobStatusUpdate struct {
	JobID            uuid.UUID  `json:"jobId"`
	Status           JobStatus  `json:"status"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	ActualDurationMs *int64     `json:"actualDurationMs,omitempty"`
	CompletedItems   *int       `json:"completedItems,omitempty"`
	FailedItems      *int       `json:"failedItems,omitempty"`
}

// JobCounts carries the aggregate counters of a job.
type JobCounts struct {
	JobID          uuid.UUID `json:"jobId"`
	CompletedItems int       `json:"completedItems"`
	FailedItems    int       `json:"failedItems"`
}

// ProgressEvent is broadcast to interested clients after each item settles.
type ProgressEvent struct {
	JobID       uuid.UUID     `json:"jobId"`
	ItemType    string        `json:"itemType"`
	ItemIndex   int           `json:"itemIndex"`
	ItemStatus  JobItemStatus `json:"itemStatus"`
	Message     string        `json:"message,omitempty"`
	CurrentItem int           `json:"currentItem"`
	TotalItems  int           `json:"totalItems"`
}

// FinalStatus derives the terminal job status from its counters.
func FinalStatus(total, failed int, cancelled bool) JobStatus {
	switch {
	case cancelled:
		return JobStatusCancelled
	case failed == 0:
		return JobStatusCompleted
	case failed >= total:
		return JobStatusFailed
	default:
		return JobStatusPartiallyFailed
	}
}
