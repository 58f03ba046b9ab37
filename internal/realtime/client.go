package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"confianza/internal/domain"
	"confianza/internal/httpapi"
)

// DefaultTimeout bounds each API request.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// StateChanged reports a rejected transition. The local view is stale or
// lost a race and should be refreshed.
func (e *APIError) StateChanged() bool {
	return e.StatusCode == http.StatusBadRequest && strings.HasPrefix(e.Message, "Invalid status transition")
}

// Client calls the trade API as one session user.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a client for the API at baseURL authenticating with the
// session token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetTrade fetches the participant view of a trade.
func (c *Client) GetTrade(ctx context.Context, tradeID string) (*httpapi.TradeView, error) {
	var view httpapi.TradeView
	if err := c.do(ctx, http.MethodGet, "/api/trades/"+url.PathEscape(tradeID), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// UpdateStatus requests a transition. role is sent as the client's claim;
// the server derives the real one.
func (c *Client) UpdateStatus(ctx context.Context, tradeID string, status domain.TradeStatus, role domain.Role) (*httpapi.UpdateStatusResponse, error) {
	req := httpapi.UpdateStatusRequest{
		TradeID:   tradeID,
		NewStatus: string(status),
		UserRole:  string(role),
	}
	var resp httpapi.UpdateStatusResponse
	if err := c.do(ctx, http.MethodPost, "/api/trades/update-status", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OpenTrade opens a trade against an offer with the session user as buyer.
func (c *Client) OpenTrade(ctx context.Context, offerID string, fiatAmount decimal.Decimal) (*domain.Trade, error) {
	req := httpapi.OpenTradeRequest{OfferID: offerID, FiatAmount: fiatAmount}
	var resp httpapi.OpenTradeResponse
	if err := c.do(ctx, http.MethodPost, "/api/trades", req, &resp); err != nil {
		return nil, err
	}
	return resp.Trade, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e httpapi.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Act asks the server to move the viewed trade to target. On success the
// returned status is applied to view optimistically until the feed confirms
// it; on failure the view keeps its status and records the error.
func Act(ctx context.Context, client *Client, view *View, target domain.TradeStatus) error {
	snap := view.Snapshot()
	resp, err := client.UpdateStatus(ctx, snap.Trade.ID, target, snap.Role)
	if err != nil {
		view.setActionError(err)
		return err
	}
	view.ApplyOptimistic(resp.Status)
	return nil
}
