package store

import (
	"context"
	"sync"

	"github.com/dunamismax/media-derivatives/internal/domain"
)

const DefaultMemoryCapacity = 10000

// MemoryOutcomeStore holds at most capacity outcomes, evicting the oldest
// message first.
type MemoryOutcomeStore struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	outcomes map[string]domain.Outcome
}

func NewMemoryOutcomeStore(capacity int) *MemoryOutcomeStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryOutcomeStore{
		capacity: capacity,
		outcomes: make(map[string]domain.Outcome),
	}
}

func (s *MemoryOutcomeStore) Record(_ context.Context, outcome domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outcomes[outcome.MessageID]; !ok {
		s.order = append(s.order, outcome.MessageID)
		if len(s.order) > s.capacity {
			delete(s.outcomes, s.order[0])
			s.order = s.order[1:]
		}
	}
	s.outcomes[outcome.MessageID] = outcome
	return nil
}

func (s *MemoryOutcomeStore) Get(_ context.Context, messageID string) (domain.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outcome, ok := s.outcomes[messageID]
	if !ok {
		return domain.Outcome{}, ErrOutcomeNotFound
	}
	return outcome, nil
}

func (s *MemoryOutcomeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outcomes)
}
