package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confianza/internal/domain"
	"confianza/internal/storage"
)

func waitSubscribers(t *testing.T, api *apiServer, tradeID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return api.feed.Subscribers(tradeID) == n },
		5*time.Second, 10*time.Millisecond)
}

func TestLiveURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/api/trades/t%2F1/live"},
		{"https://example.com/app/", "wss://example.com/app/api/trades/t%2F1/live"},
		{"http://example.com/my%20app", "ws://example.com/my%20app/api/trades/t%2F1/live"},
	}
	for _, tt := range tests {
		got, err := liveURL(tt.base, "t/1")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	plain, err := liveURL("http://localhost:8080", "trade-1")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/api/trades/trade-1/live", plain)

	_, err = liveURL("ftp://example.com", "t")
	assert.Error(t, err)
}

func TestWSSource_DeliversUpdates(t *testing.T) {
	api := newAPIServer(t)
	api.seed(t, newTrade("trade-1", domain.StatusPending))
	logger, _ := test.NewNullLogger()

	src := NewWSSource(api.URL, api.token(t, buyerID), nil, logger)
	sub, err := src.Subscribe(context.Background(), "trade-1")
	require.NoError(t, err)
	defer sub.Close()
	waitSubscribers(t, api, "trade-1", 1)

	_, err = api.trades.UpdateStatus(context.Background(), "trade-1", storage.StatusUpdate{
		Expected:  domain.StatusPending,
		Status:    domain.StatusInProgress,
		UpdatedAt: createdAt.Add(time.Minute),
	})
	require.NoError(t, err)

	select {
	case p := <-sub.Changes():
		assert.Equal(t, "trade-1", p.TradeID)
		assert.Equal(t, domain.StatusInProgress, p.Status)
		assert.True(t, createdAt.Add(time.Minute).Equal(p.UpdatedAt))
		assert.Nil(t, p.CompletedAt)
	case <-time.After(5 * time.Second):
		t.Fatal("no update received")
	}
}

func TestWSSource_ServerFeedFailure(t *testing.T) {
	api := newAPIServer(t)
	api.seed(t, newTrade("trade-1", domain.StatusPending))
	logger, _ := test.NewNullLogger()

	sub, err := NewWSSource(api.URL, api.token(t, sellerID), nil, logger).Subscribe(context.Background(), "trade-1")
	require.NoError(t, err)
	defer sub.Close()
	waitSubscribers(t, api, "trade-1", 1)

	api.feed.Fail(errors.New("listener lost"))

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not end")
	}
	assert.ErrorIs(t, sub.Err(), ErrFeedUnavailable)
	assert.Contains(t, sub.Err().Error(), "listener lost")
}

func TestWSSource_ContextCancelClosesNormally(t *testing.T) {
	api := newAPIServer(t)
	api.seed(t, newTrade("trade-1", domain.StatusPending))
	logger, _ := test.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := NewWSSource(api.URL, api.token(t, buyerID), nil, logger).Subscribe(ctx, "trade-1")
	require.NoError(t, err)
	waitSubscribers(t, api, "trade-1", 1)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not end")
	}
	assert.NoError(t, sub.Err())

	// the server drops its side once the socket closes
	waitSubscribers(t, api, "trade-1", 0)
}

func TestWSSource_RejectedHandshake(t *testing.T) {
	api := newAPIServer(t)
	api.seed(t, newTrade("trade-1", domain.StatusPending))
	logger, _ := test.NewNullLogger()

	_, err := NewWSSource(api.URL, api.token(t, "stranger"), nil, logger).Subscribe(context.Background(), "trade-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	_, err = NewWSSource(api.URL, "", nil, logger).Subscribe(context.Background(), "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestPropagator_OverWebsocket(t *testing.T) {
	api := newAPIServer(t)
	api.seed(t, newTrade("trade-1", domain.StatusInProgress))
	logger, _ := test.NewNullLogger()

	onChange, ch := snapshots()
	view := NewView(newTrade("trade-1", domain.StatusInProgress), domain.RoleSeller, onChange)
	src := NewWSSource(api.URL, api.token(t, sellerID), nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- NewPropagator(src, view, logger).Run(ctx) }()
	waitFor(t, ch, connIs(StateSubscribed))

	buyer := NewClient(api.URL, api.token(t, buyerID))
	_, err := buyer.UpdateStatus(context.Background(), "trade-1", domain.StatusPaymentSent, domain.RoleBuyer)
	require.NoError(t, err)

	snap := waitFor(t, ch, func(s Snapshot) bool { return s.Trade.Status == domain.StatusPaymentSent })
	assert.False(t, snap.Optimistic)
	assert.True(t, snap.Action.Enabled)
	assert.Equal(t, domain.StatusCompleted, snap.Action.Target)

	api.feed.Fail(errors.New("listener lost"))
	snap = waitFor(t, ch, connIs(StateError))
	assert.Equal(t, domain.StatusPaymentSent, snap.Trade.Status)
	assert.ErrorIs(t, <-errCh, ErrFeedUnavailable)
}
