package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"confianza/internal/httpapi"
	"confianza/internal/storage"
)

// ErrFeedUnavailable ends a subscription when the server reports that its
// change feed failed.
var ErrFeedUnavailable = errors.New("server change feed unavailable")

// WSConfig configures WSSource connections.
type WSConfig struct {
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// SubscribeTimeout bounds the wait for the subscription confirmation.
	SubscribeTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// WriteTimeout is timeout for writing control frames.
	WriteTimeout time.Duration
	// Buffer is the subscription buffer, zero for the storage default.
	Buffer int
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		HandshakeTimeout: 10 * time.Second,
		SubscribeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// WSSource is a storage.ChangeFeed backed by the server's live endpoint.
// Each Subscribe opens its own connection.
type WSSource struct {
	baseURL string
	token   string
	config  WSConfig
	logger  logrus.FieldLogger
}

var _ storage.ChangeFeed = (*WSSource)(nil)

// NewWSSource creates a source for the API at baseURL (http or https),
// authenticating with the session token.
func NewWSSource(baseURL, token string, config *WSConfig, logger logrus.FieldLogger) *WSSource {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	return &WSSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		config:  cfg,
		logger:  logger,
	}
}

// Subscribe connects to the live endpoint of tradeID and returns once the
// server confirmed the subscription. The subscription ends when ctx is done.
func (s *WSSource) Subscribe(ctx context.Context, tradeID string) (*storage.Subscription, error) {
	if tradeID == "" {
		return nil, storage.ErrInvalidInput
	}

	endpoint, err := liveURL(s.baseURL, tradeID)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.config.HandshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	if err := awaitSubscribed(conn, s.config.SubscribeTimeout); err != nil {
		conn.Close()
		return nil, err
	}

	lc := &liveConn{
		conn:   conn,
		config: s.config,
		done:   make(chan struct{}),
		logger: s.logger.WithField("trade_id", tradeID),
	}
	sub := storage.NewSubscription(tradeID, s.config.Buffer, lc.close)

	go lc.readLoop(sub)
	go lc.pingLoop()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()

	return sub, nil
}

func liveURL(baseURL, tradeID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	// Path holds the raw id, RawPath its escaped form, so a reserved
	// character stays inside one segment
	base := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = strings.TrimRight(u.Path, "/") + "/api/trades/" + tradeID + "/live"
	u.RawPath = base + "/api/trades/" + url.PathEscape(tradeID) + "/live"
	return u.String(), nil
}

func awaitSubscribed(conn *websocket.Conn, timeout time.Duration) error {
	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
	}
	var m httpapi.LiveMessage
	if err := conn.ReadJSON(&m); err != nil {
		return fmt.Errorf("await subscription: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch m.Type {
	case httpapi.MessageSubscribed:
		return nil
	case httpapi.MessageError:
		return fmt.Errorf("%w: %s", ErrFeedUnavailable, m.Error)
	default:
		return fmt.Errorf("unexpected first message %q", m.Type)
	}
}

// liveConn is one open live connection.
type liveConn struct {
	conn    *websocket.Conn
	config  WSConfig
	logger  logrus.FieldLogger
	closing atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// close sends a normal close frame and tears the connection down.
func (c *liveConn) close() {
	c.once.Do(func() {
		c.closing.Store(true)
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.config.WriteTimeout))
		c.conn.Close()
	})
}

// readLoop delivers trade updates to sub until the connection ends.
func (c *liveConn) readLoop(sub *storage.Subscription) {
	defer c.close()

	for {
		var m httpapi.LiveMessage
		if err := c.conn.ReadJSON(&m); err != nil {
			if c.closing.Load() {
				return
			}
			sub.Fail(fmt.Errorf("live connection: %w", err))
			return
		}

		switch m.Type {
		case httpapi.MessageTradeUpdate:
			if m.TradeID != sub.TradeID() {
				continue
			}
			if !sub.Publish(m.Patch()) {
				return
			}
		case httpapi.MessageError:
			sub.Fail(fmt.Errorf("%w: %s", ErrFeedUnavailable, m.Error))
			return
		default:
			c.logger.WithField("type", m.Type).Debug("ignoring live message")
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *liveConn) pingLoop() {
	if c.config.PingInterval <= 0 {
		<-c.done
		return
	}

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// a dead connection surfaces in readLoop
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout))
		}
	}
}
