package pipeline

import (
	"sync"

	"studio/internal/domain"
)

// Store holds the in-memory state of runs. Each session has at most one
// current run; state writes are tagged with a run id, and writes addressed to
// a run that has been superseded in its session are discarded so a stale run
// can never overwrite a newer one.
type Store struct {
	mu      sync.RWMutex
	runs    map[string]*domain.Run
	current map[string]string
}

func NewStore() *Store {
	return &Store{
		runs:    make(map[string]*domain.Run),
		current: make(map[string]string),
	}
}

// Put registers the run and makes it the current run for its session.
func (s *Store) Put(run *domain.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	s.current[run.SessionID] = run.ID
}

// Get returns a deep copy of the run, safe to serialize without holding the
// lock.
func (s *Store) Get(runID string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return run.Clone(), nil
}

// Update applies fn to the run under the lock. It reports false when the run
// is unknown or no longer the current run of its session, in which case fn is
// not invoked.
func (s *Store) Update(runID string, fn func(*domain.Run)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok || s.current[run.SessionID] != runID {
		return false
	}
	fn(run)
	return true
}

// UpdateMockup applies fn to the single item matching productID. Each
// concurrently-resolving mockup call writes only its own slot, so no
// read-modify-write of the whole collection ever races.
func (s *Store) UpdateMockup(runID, productID string, fn func(*domain.MockupItem)) bool {
	return s.Update(runID, func(run *domain.Run) {
		if item := run.Mockup(productID); item != nil {
			fn(item)
		}
	})
}
