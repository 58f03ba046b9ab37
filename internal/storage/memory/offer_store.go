package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"confianza/internal/domain"
	"confianza/internal/storage"
)

// OfferStore is an in-memory implementation of storage.OfferStore.
type OfferStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Offer // keyed by id
}

// NewOfferStore creates a new in-memory offer store.
func NewOfferStore() *OfferStore {
	return &OfferStore{
		data: make(map[string]*domain.Offer),
	}
}

// Insert adds a new offer. Returns ErrDuplicateKey if id exists.
func (s *OfferStore) Insert(_ context.Context, o *domain.Offer) error {
	if o == nil {
		return storage.ErrInvalidInput
	}
	if err := o.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[o.ID] = cloneOffer(o)
	return nil
}

// GetByID retrieves an offer by its ID. Returns ErrNotFound if not exists.
func (s *OfferStore) GetByID(_ context.Context, offerID string) (*domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.data[offerID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneOffer(o), nil
}

// ListActive retrieves active offers, newest first.
func (s *OfferStore) ListActive(_ context.Context) ([]*domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Offer
	for _, o := range s.data {
		if o.Status == domain.OfferActive {
			result = append(result, cloneOffer(o))
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

func cloneOffer(o *domain.Offer) *domain.Offer {
	c := *o
	if o.PaymentMethod != nil {
		pm := *o.PaymentMethod
		c.PaymentMethod = &pm
	}
	return &c
}

var _ storage.OfferStore = (*OfferStore)(nil)
