package memory

import (
	"context"
	"sync"

	"confianza/internal/domain"
	"confianza/internal/storage"
)

// ChangeFeed is an in-process storage.ChangeFeed. TradeStore publishes to it
// after each committed update; the postgres feed uses it to fan out
// notifications.
type ChangeFeed struct {
	mu     sync.Mutex
	subs   map[string]map[*storage.Subscription]struct{} // keyed by trade id
	buffer int
	closed bool
}

// NewChangeFeed creates a feed whose subscriptions buffer up to buffer
// changes. Zero selects storage.DefaultSubscriptionBuffer.
func NewChangeFeed(buffer int) *ChangeFeed {
	return &ChangeFeed{
		subs:   make(map[string]map[*storage.Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a subscription for tradeID. It is closed when ctx is
// done.
func (f *ChangeFeed) Subscribe(ctx context.Context, tradeID string) (*storage.Subscription, error) {
	if tradeID == "" {
		return nil, storage.ErrInvalidInput
	}

	var sub *storage.Subscription
	sub = storage.NewSubscription(tradeID, f.buffer, func() { f.remove(sub) })

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, storage.ErrFeedClosed
	}
	set, ok := f.subs[tradeID]
	if !ok {
		set = make(map[*storage.Subscription]struct{})
		f.subs[tradeID] = set
	}
	set[sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()

	return sub, nil
}

// Publish fans p out to every subscriber of p.TradeID. Subscribers that fell
// behind are dropped.
func (f *ChangeFeed) Publish(p domain.TradePatch) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set := f.subs[p.TradeID]
	for sub := range set {
		if !sub.Publish(p) {
			delete(set, sub)
		}
	}
	if len(set) == 0 {
		delete(f.subs, p.TradeID)
	}
}

// Fail ends every current subscription with err. The feed keeps accepting
// new subscriptions.
func (f *ChangeFeed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failLocked(err)
}

// Close ends every subscription with ErrFeedClosed and rejects new ones.
func (f *ChangeFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.failLocked(storage.ErrFeedClosed)
}

func (f *ChangeFeed) failLocked(err error) {
	for id, set := range f.subs {
		for sub := range set {
			sub.Fail(err)
		}
		delete(f.subs, id)
	}
}

// Subscribers returns the number of live subscriptions for tradeID.
func (f *ChangeFeed) Subscribers(tradeID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[tradeID])
}

func (f *ChangeFeed) remove(sub *storage.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set := f.subs[sub.TradeID()]
	delete(set, sub)
	if len(set) == 0 {
		delete(f.subs, sub.TradeID())
	}
}

var _ storage.ChangeFeed = (*ChangeFeed)(nil)
