package storage

import (
	"sync"

	"confianza/internal/domain"
)

// DefaultSubscriptionBuffer is the number of undelivered changes a subscriber
// may accumulate before it is dropped with ErrSlowConsumer.
const DefaultSubscriptionBuffer = 64

// Subscription is a stream of committed changes for one trade.
//
// Consumers range over Changes and then inspect Err: nil means the stream was
// closed normally (Close or context cancellation), non-nil means the feed
// failed or the consumer fell behind.
type Subscription struct {
	tradeID string
	ch      chan domain.TradePatch
	done    chan struct{}
	onClose func()

	mu     sync.Mutex
	closed bool
	err    error
}

// NewSubscription creates an open subscription. onClose, if set, runs once
// when the consumer calls Close; feeds use it to unregister.
func NewSubscription(tradeID string, buffer int, onClose func()) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	return &Subscription{
		tradeID: tradeID,
		ch:      make(chan domain.TradePatch, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// TradeID returns the trade this subscription is scoped to.
func (s *Subscription) TradeID() string {
	return s.tradeID
}

// Changes returns the delivery channel. It is closed when the subscription
// ends.
func (s *Subscription) Changes() <-chan domain.TradePatch {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the subscription ended. Only meaningful after Done.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Publish delivers p without blocking. If the buffer is full the
// subscription ends with ErrSlowConsumer. Returns false if p was not
// delivered; the feed should then forget this subscription.
func (s *Subscription) Publish(p domain.TradePatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- p:
		return true
	default:
		s.finishLocked(ErrSlowConsumer)
		return false
	}
}

// Fail ends the subscription with err. Called by feeds.
func (s *Subscription) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(err)
}

// Close ends the subscription normally. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	ended := s.finishLocked(nil)
	s.mu.Unlock()

	// outside the lock: onClose takes the feed's lock, and feeds hold their
	// lock while calling Publish
	if ended && s.onClose != nil {
		s.onClose()
	}
}

func (s *Subscription) finishLocked(err error) bool {
	if s.closed {
		return false
	}
	s.closed = true
	s.err = err
	close(s.ch)
	close(s.done)
	return true
}
