package entity

import (
	"context"
	"sync"

	"github.com/KOMKZ/go-yogan-meter/plan"
)

// MemoryStore keeps entities in process. It counts state-changing
// suspensions so callers can observe enforcement.
type MemoryStore struct {
	mu          sync.RWMutex
	entities    map[string]*Limits
	reasons     map[string]string
	suspensions map[string]int
}

// NewMemoryStore creates a store seeded with entities
func NewMemoryStore(seed ...Limits) *MemoryStore {
	s := &MemoryStore{
		entities:    make(map[string]*Limits, len(seed)),
		reasons:     make(map[string]string),
		suspensions: make(map[string]int),
	}
	for _, e := range seed {
		s.Put(e)
	}
	return s
}

// Put inserts or replaces an entity
func (s *MemoryStore) Put(e Limits) {
	if e.Status == "" {
		e.Status = Active
	}
	s.mu.Lock()
	s.entities[e.EntityID] = &e
	s.mu.Unlock()
}

func (s *MemoryStore) GetLimits(ctx context.Context, id string) (*Limits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *e
	out.Overrides = plan.Limits{}.Merge(e.Overrides)
	return &out, nil
}

func (s *MemoryStore) Suspend(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status == Suspended {
		return nil
	}
	e.Status = Suspended
	s.reasons[id] = reason
	s.suspensions[id]++
	return nil
}

func (s *MemoryStore) Reactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = Active
	delete(s.reasons, id)
	return nil
}

// Suspensions returns how many times id moved into the suspended state
func (s *MemoryStore) Suspensions(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suspensions[id]
}

// SuspendReason returns the reason of the current suspension
func (s *MemoryStore) SuspendReason(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reasons[id]
}

// CountByStatus counts entities in a status
func (s *MemoryStore) CountByStatus(ctx context.Context, status Status) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.entities {
		if e.Status == status {
			n++
		}
	}
	return n, nil
}
