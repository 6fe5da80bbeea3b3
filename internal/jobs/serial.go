package jobs

import (
	"sync"

	"github.com/google/uuid"
)

// Serializer hands out one mutex per job so a settle and the counters it
// pushes reach the tracking service in the order they were counted.
type Serializer struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

// NewSerializer returns an empty Serializer.
func NewSerializer() *Serializer {
	return &Serializer{locks: map[uuid.UUID]*jobLock{}}
}

// Lock blocks until the job's mutex is held and returns its release func.
func (s *Serializer) Lock(jobID uuid.UUID) func() {
	s.mu.Lock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &jobLock{}
		s.locks[jobID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, jobID)
		}
		s.mu.Unlock()
	}
}
