package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

type entry struct {
	total     int
	completed int
	failed    int
	started   bool
	startedAt time.Time
	cancelled bool
	finished  bool
	touched   time.Time
}

// Ledger is the in-process Store. It is safe for concurrent use by every
// worker goroutine of one process and never returns errors.
type Ledger struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*entry
	retention time.Duration
	now       func() time.Time
}

var _ Store = (*Ledger)(nil)

// NewLedger keeps finished jobs for retention so they can still be retried
// or cancelled idempotently.
func NewLedger(retention time.Duration) *Ledger {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Ledger{jobs: map[uuid.UUID]*entry{}, retention: retention, now: time.Now}
}

// Open implements Store.
func (l *Ledger) Open(_ context.Context, jobID uuid.UUID, total int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	if e, ok := l.jobs[jobID]; ok {
		if e.finished {
			return ErrJobFinished
		}
		return ErrJobActive
	}
	l.ensureLocked(jobID, total)
	return nil
}

func (l *Ledger) ensureLocked(jobID uuid.UUID, total int) *entry {
	e, ok := l.jobs[jobID]
	if !ok {
		e = &entry{total: total}
		l.jobs[jobID] = e
	}
	if total > e.total {
		e.total = total
	}
	e.touched = l.now()
	return e
}

// Begin implements Store.
func (l *Ledger) Begin(_ context.Context, jobID uuid.UUID, total int) (Start, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.ensureLocked(jobID, total)
	if e.started {
		return Start{StartedAt: e.startedAt}, nil
	}
	e.started = true
	e.startedAt = l.now()
	return Start{First: true, StartedAt: e.startedAt}, nil
}

// Settle implements Store.
func (l *Ledger) Settle(_ context.Context, jobID uuid.UUID, total int, succeeded bool) (Tally, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.ensureLocked(jobID, total)
	if succeeded {
		e.completed++
	} else {
		e.failed++
	}
	t := Tally{
		Total:     e.total,
		Completed: e.completed,
		Failed:    e.failed,
		Processed: e.completed + e.failed,
		Cancelled: e.cancelled,
		StartedAt: e.startedAt,
	}
	if !e.finished && t.Processed >= e.total {
		e.finished = true
		t.Done = true
	}
	return t, nil
}

// Cancel implements Store.
func (l *Ledger) Cancel(_ context.Context, jobID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.jobs[jobID]
	if !ok {
		return ErrUnknownJob
	}
	if e.finished {
		return ErrJobFinished
	}
	e.cancelled = true
	e.touched = l.now()
	return nil
}

// Cancelled implements Store.
func (l *Ledger) Cancelled(_ context.Context, jobID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.jobs[jobID]
	return ok && e.cancelled, nil
}

// Reopen implements Store. The failed counter drops by count and the job may
// start and finish again.
func (l *Ledger) Reopen(_ context.Context, jobID uuid.UUID, counts domain.JobCounts, total, count int) (domain.JobCounts, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.jobs[jobID]
	if !ok {
		e = &entry{total: total, completed: counts.CompletedItems, failed: counts.FailedItems}
		l.jobs[jobID] = e
	}
	e.failed -= count
	if e.failed < 0 {
		e.failed = 0
	}
	e.started = false
	e.cancelled = false
	e.finished = false
	e.touched = l.now()
	return domain.JobCounts{JobID: jobID, CompletedItems: e.completed, FailedItems: e.failed}, nil
}

// Drop implements Store.
func (l *Ledger) Drop(_ context.Context, jobID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.jobs, jobID)
	return nil
}

func (l *Ledger) pruneLocked() {
	cutoff := l.now().Add(-l.retention)
	for id, e := range l.jobs {
		if e.finished && e.touched.Before(cutoff) {
			delete(l.jobs, id)
		}
	}
}
