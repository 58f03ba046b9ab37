package memory

import (
	"context"
	"sort"
	"sync"

	"confianza/internal/domain"
	"confianza/internal/storage"
)

// TransitionEventStore is an in-memory implementation of
// storage.TransitionEventStore.
type TransitionEventStore struct {
	mu     sync.RWMutex
	events map[string]*domain.TransitionEvent // keyed by event_id
}

// NewTransitionEventStore creates a new in-memory audit trail.
func NewTransitionEventStore() *TransitionEventStore {
	return &TransitionEventStore{
		events: make(map[string]*domain.TransitionEvent),
	}
}

// Insert appends an event. Returns ErrDuplicateKey if event_id exists.
func (s *TransitionEventStore) Insert(_ context.Context, e *domain.TransitionEvent) error {
	if e == nil || e.EventID == "" || e.TradeID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[e.EventID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.events[e.EventID] = &copy
	return nil
}

// GetByTradeID retrieves all events for a trade, ordered by occurred_at ASC.
func (s *TransitionEventStore) GetByTradeID(_ context.Context, tradeID string) ([]*domain.TransitionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TransitionEvent
	for _, e := range s.events {
		if e.TradeID == tradeID {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].EventID < result[j].EventID
		}
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})

	return result, nil
}

var _ storage.TransitionEventStore = (*TransitionEventStore)(nil)
