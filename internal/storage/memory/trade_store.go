package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"confianza/internal/domain"
	"confianza/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
// If a ChangeFeed is attached, every committed status update is published
// to it.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Trade // keyed by id
	feed *ChangeFeed
}

// NewTradeStore creates a new in-memory trade store. feed may be nil.
func NewTradeStore(feed *ChangeFeed) *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.Trade),
		feed: feed,
	}
}

// Insert adds a new trade. Returns ErrDuplicateKey if id exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.Trade) error {
	if t == nil {
		return storage.ErrInvalidInput
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[t.ID] = cloneTrade(t)
	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(_ context.Context, tradeID string) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[tradeID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneTrade(t), nil
}

// GetByParticipant retrieves all trades where userID is buyer or seller,
// newest first.
func (s *TradeStore) GetByParticipant(_ context.Context, userID string) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range s.data {
		if t.BuyerID == userID || t.SellerID == userID {
			result = append(result, cloneTrade(t))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// UpdateStatus applies u if the stored status still equals u.Expected.
func (s *TradeStore) UpdateStatus(_ context.Context, tradeID string, u storage.StatusUpdate) (*domain.Trade, error) {
	s.mu.Lock()
	t, exists := s.data[tradeID]
	if !exists {
		s.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	if t.Status != u.Expected {
		s.mu.Unlock()
		return nil, storage.ErrStaleStatus
	}

	domain.TradePatch{
		TradeID:     tradeID,
		Status:      u.Status,
		UpdatedAt:   u.UpdatedAt,
		CompletedAt: u.CompletedAt,
	}.Apply(t)
	updated := cloneTrade(t)

	// published under the store lock so delivery order matches commit order
	if s.feed != nil {
		s.feed.Publish(domain.PatchOf(updated))
	}
	s.mu.Unlock()
	return updated, nil
}

func cloneTrade(t *domain.Trade) *domain.Trade {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

var _ storage.TradeStore = (*TradeStore)(nil)
