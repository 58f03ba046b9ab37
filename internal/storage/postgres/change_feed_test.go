package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confianza/internal/domain"
	"confianza/internal/storage"
)

func TestDecodeNotification(t *testing.T) {
	p, err := decodeNotification(`{"id":"trade-1","status":"completed","updated_at":"2026-03-01T12:00:00.123456+00:00","completed_at":"2026-03-01T12:00:00.123456+00:00"}`)
	require.NoError(t, err)
	assert.Equal(t, "trade-1", p.TradeID)
	assert.Equal(t, domain.StatusCompleted, p.Status)
	require.NotNil(t, p.CompletedAt)
	assert.Equal(t, time.UTC, p.UpdatedAt.Location())

	p, err = decodeNotification(`{"id":"trade-1","status":"in_progress","updated_at":"2026-03-01T12:00:00+00:00","completed_at":null}`)
	require.NoError(t, err)
	assert.Nil(t, p.CompletedAt)

	_, err = decodeNotification(`{"id":"trade-1","status":"shipped","updated_at":"2026-03-01T12:00:00+00:00"}`)
	assert.Error(t, err)
	_, err = decodeNotification(`{"status":"pending"}`)
	assert.Error(t, err)
	_, err = decodeNotification(`not json`)
	assert.Error(t, err)
}

func startFeed(t *testing.T, pool *Pool) (*ChangeFeed, context.CancelFunc) {
	t.Helper()

	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	feed := NewChangeFeed(pool, ChangeFeedConfig{ReconnectDelay: 50 * time.Millisecond}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = feed.Run(ctx)
	}()

	return feed, func() {
		cancel()
		<-done
	}
}

// waitListening blocks until the feed's connection is registered as a
// listener on TradeChannel.
func waitListening(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()
	require.Eventually(t, func() bool {
		var n int
		err := pool.QueryRow(ctx, `SELECT count(*) FROM pg_stat_activity WHERE query = $1`, "LISTEN "+TradeChannel).Scan(&n)
		return err == nil && n > 0
	}, 10*time.Second, 50*time.Millisecond)
}

func TestChangeFeed_DeliversCommittedUpdates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	offer := createTestOffer(t, ctx, pool, "offer-1")
	store := NewTradeStore(pool)

	trade := createTestTrade(offer.ID, "trade-live", domain.StatusPending)
	require.NoError(t, store.Insert(ctx, trade))
	other := createTestTrade(offer.ID, "trade-other", domain.StatusPending)
	require.NoError(t, store.Insert(ctx, other))

	feed, stop := startFeed(t, pool)
	defer stop()
	waitListening(t, ctx, pool)

	sub, err := feed.Subscribe(ctx, trade.ID)
	require.NoError(t, err)
	defer sub.Close()

	_, err = store.UpdateStatus(ctx, other.ID, storage.StatusUpdate{
		Expected:  domain.StatusPending,
		Status:    domain.StatusCancelled,
		UpdatedAt: testTime(time.Minute),
	})
	require.NoError(t, err)

	now := testTime(2 * time.Minute)
	_, err = store.UpdateStatus(ctx, trade.ID, storage.StatusUpdate{
		Expected:  domain.StatusPending,
		Status:    domain.StatusInProgress,
		UpdatedAt: now,
	})
	require.NoError(t, err)

	select {
	case p := <-sub.Changes():
		assert.Equal(t, trade.ID, p.TradeID)
		assert.Equal(t, domain.StatusInProgress, p.Status)
		assert.True(t, now.Equal(p.UpdatedAt))
		assert.Nil(t, p.CompletedAt)
	case <-time.After(10 * time.Second):
		t.Fatal("no notification received")
	}
}

func TestChangeFeed_RunStopClosesSubscriptions(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	feed, stop := startFeed(t, pool)
	waitListening(t, ctx, pool)

	sub, err := feed.Subscribe(ctx, "trade-any")
	require.NoError(t, err)

	stop()

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not closed after Run returned")
	}
	assert.ErrorIs(t, sub.Err(), storage.ErrFeedClosed)
}
