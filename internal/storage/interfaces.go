package storage

import (
	"context"
	"time"

	"confianza/internal/domain"
)

// StatusUpdate is a conditional status write. It applies only if the stored
// status still equals Expected.
type StatusUpdate struct {
	Expected    domain.TradeStatus
	Status      domain.TradeStatus
	UpdatedAt   time.Time
	CompletedAt *time.Time // written as-is, nil clears the column
}

// TradeStore provides access to trades storage.
type TradeStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if id exists,
	// ErrInvalidInput if the trade fails validation.
	Insert(ctx context.Context, t *domain.Trade) error

	// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.Trade, error)

	// GetByParticipant retrieves all trades where userID is buyer or seller,
	// newest first.
	GetByParticipant(ctx context.Context, userID string) ([]*domain.Trade, error)

	// UpdateStatus applies u and returns the updated row. Returns ErrNotFound
	// if the trade does not exist and ErrStaleStatus if its status is no
	// longer u.Expected. Immutable columns are never written.
	UpdateStatus(ctx context.Context, tradeID string, u StatusUpdate) (*domain.Trade, error)
}

// OfferStore provides access to offers storage.
type OfferStore interface {
	// Insert adds a new offer. Returns ErrDuplicateKey if id exists,
	// ErrInvalidInput if the offer fails validation.
	Insert(ctx context.Context, o *domain.Offer) error

	// GetByID retrieves an offer by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, offerID string) (*domain.Offer, error)

	// ListActive retrieves active offers, newest first.
	ListActive(ctx context.Context) ([]*domain.Offer, error)
}

// ChangeFeed delivers committed trade changes.
type ChangeFeed interface {
	// Subscribe returns a subscription scoped to a single trade. It ends when
	// ctx is cancelled, the subscriber calls Close, or the feed fails.
	Subscribe(ctx context.Context, tradeID string) (*Subscription, error)
}

// TransitionEventStore provides access to the transition audit trail.
type TransitionEventStore interface {
	// Insert appends an event. Returns ErrDuplicateKey if event_id exists.
	Insert(ctx context.Context, e *domain.TransitionEvent) error

	// GetByTradeID retrieves all events for a trade, ordered by occurred_at ASC.
	GetByTradeID(ctx context.Context, tradeID string) ([]*domain.TransitionEvent, error)
}
