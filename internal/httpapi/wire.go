package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"confianza/internal/domain"
	"confianza/internal/lifecycle"
)

// UpdateStatusRequest is the body of POST /api/trades/update-status.
type UpdateStatusRequest struct {
	TradeID   string `json:"tradeId"`
	NewStatus string `json:"newStatus"`
	UserRole  string `json:"userRole"`
}

// UpdateStatusResponse is returned when a transition is applied.
type UpdateStatusResponse struct {
	Success bool               `json:"success"`
	Status  domain.TradeStatus `json:"status"`
	Trade   *domain.Trade      `json:"trade"`
}

// OpenTradeRequest is the body of POST /api/trades. FiatAmount accepts a JSON
// number or a decimal string.
type OpenTradeRequest struct {
	OfferID    string          `json:"offerId"`
	FiatAmount decimal.Decimal `json:"fiatAmount"`
}

// OpenTradeResponse is returned when a trade is created.
type OpenTradeResponse struct {
	Success bool          `json:"success"`
	Trade   *domain.Trade `json:"trade"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TradeView is what a participant sees for one trade.
type TradeView struct {
	Trade  *domain.Trade          `json:"trade"`
	State  lifecycle.TradeState   `json:"state"`
	Role   domain.Role            `json:"role"`
	Action lifecycle.Presentation `json:"action"`
	// Progress is the happy-path step index, -1 for disputed or cancelled.
	Progress int `json:"progress"`
}

// Live message types.
const (
	MessageSubscribed  = "subscribed"
	MessageTradeUpdate = "trade_update"
	MessageError       = "error"
)

// LiveMessage is one frame sent on /api/trades/{id}/live.
type LiveMessage struct {
	Type        string             `json:"type"`
	TradeID     string             `json:"tradeId,omitempty"`
	Status      domain.TradeStatus `json:"status,omitempty"`
	UpdatedAt   *time.Time         `json:"updatedAt,omitempty"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// UpdateMessage wraps a committed change.
func UpdateMessage(p domain.TradePatch) LiveMessage {
	updatedAt := p.UpdatedAt
	return LiveMessage{
		Type:        MessageTradeUpdate,
		TradeID:     p.TradeID,
		Status:      p.Status,
		UpdatedAt:   &updatedAt,
		CompletedAt: p.CompletedAt,
	}
}

// Patch returns the change carried by a trade_update message.
func (m LiveMessage) Patch() domain.TradePatch {
	p := domain.TradePatch{
		TradeID:     m.TradeID,
		Status:      m.Status,
		CompletedAt: m.CompletedAt,
	}
	if m.UpdatedAt != nil {
		p.UpdatedAt = *m.UpdatedAt
	}
	return p
}
