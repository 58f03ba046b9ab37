package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"confianza/internal/domain"
	"confianza/internal/observability"
	"confianza/internal/storage"
	"confianza/internal/storage/memory"
)

// TradeChannel is the NOTIFY channel the trades trigger publishes on.
const TradeChannel = "trade_changes"

const maxReconnectDelay = 30 * time.Second

// ChangeFeed implements storage.ChangeFeed on top of LISTEN/NOTIFY. One
// dedicated connection listens on TradeChannel; notifications are fanned out
// to per-trade subscriptions.
//
// When the listening connection fails, every live subscription ends with the
// error and the feed reconnects for future subscribers.
type ChangeFeed struct {
	pool           *Pool
	hub            *memory.ChangeFeed
	logger         logrus.FieldLogger
	reconnectDelay time.Duration
}

// ChangeFeedConfig holds change feed parameters.
type ChangeFeedConfig struct {
	ReconnectDelay time.Duration // initial backoff, doubled up to 30s
	Buffer         int           // per-subscription buffer
}

// NewChangeFeed creates a feed. Call Run to start listening.
func NewChangeFeed(pool *Pool, cfg ChangeFeedConfig, logger logrus.FieldLogger) *ChangeFeed {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	return &ChangeFeed{
		pool:           pool,
		hub:            memory.NewChangeFeed(cfg.Buffer),
		logger:         logger,
		reconnectDelay: cfg.ReconnectDelay,
	}
}

// Compile-time interface check.
var _ storage.ChangeFeed = (*ChangeFeed)(nil)

// Subscribe returns a subscription for tradeID.
func (f *ChangeFeed) Subscribe(ctx context.Context, tradeID string) (*storage.Subscription, error) {
	return f.hub.Subscribe(ctx, tradeID)
}

// Run listens until ctx is cancelled, reconnecting with backoff after
// connection failures. On return all subscriptions are closed.
func (f *ChangeFeed) Run(ctx context.Context) error {
	defer f.hub.Close()

	delay := f.reconnectDelay
	for {
		err := f.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}

		f.logger.WithError(err).WithField("retry_in", delay.String()).Warn("change feed connection lost")
		f.hub.Fail(fmt.Errorf("change feed: %w", err))
		observability.RecordFeedReconnect()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// listen holds one connection in LISTEN mode until it fails or ctx ends.
func (f *ChangeFeed) listen(ctx context.Context) error {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	// a connection in LISTEN mode must not go back to the pool
	pgConn := conn.Hijack()
	defer pgConn.Close(context.Background())

	if _, err := pgConn.Exec(ctx, "LISTEN "+TradeChannel); err != nil {
		return fmt.Errorf("listen %s: %w", TradeChannel, err)
	}
	f.logger.WithField("channel", TradeChannel).Info("change feed listening")

	for {
		n, err := pgConn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		patch, err := decodeNotification(n.Payload)
		if err != nil {
			f.logger.WithError(err).WithField("payload", n.Payload).Error("drop malformed trade notification")
			observability.RecordFeedNotification("malformed")
			continue
		}
		f.hub.Publish(patch)
		observability.RecordFeedNotification("delivered")
	}
}

type notification struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func decodeNotification(payload string) (domain.TradePatch, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return domain.TradePatch{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.ID == "" {
		return domain.TradePatch{}, errors.New("notification without trade id")
	}
	status, err := domain.ParseTradeStatus(n.Status)
	if err != nil {
		return domain.TradePatch{}, err
	}

	p := domain.TradePatch{
		TradeID:   n.ID,
		Status:    status,
		UpdatedAt: n.UpdatedAt.UTC(),
	}
	if n.CompletedAt != nil {
		at := n.CompletedAt.UTC()
		p.CompletedAt = &at
	}
	return p, nil
}
