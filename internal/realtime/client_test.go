package realtime

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confianza/internal/domain"
	"confianza/internal/lifecycle"
)

func TestClient_GetTrade(t *testing.T) {
	api := newAPIServer(t)
	api.seed(t, newTrade("trade-1", domain.StatusPending))

	view, err := NewClient(api.URL, api.token(t, sellerID)).GetTrade(context.Background(), "trade-1")
	require.NoError(t, err)
	assert.Equal(t, "trade-1", view.Trade.ID)
	assert.Equal(t, domain.RoleSeller, view.Role)
	assert.Equal(t, lifecycle.KindAction, view.Action.Kind)

	_, err = NewClient(api.URL, api.token(t, sellerID)).GetTrade(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Trade not found", apiErr.Message)
	assert.False(t, apiErr.Retryable())
}

func TestClient_UpdateStatusRejected(t *testing.T) {
	api := newAPIServer(t)
	api.seed(t, newTrade("trade-1", domain.StatusPending))

	_, err := NewClient(api.URL, api.token(t, buyerID)).
		UpdateStatus(context.Background(), "trade-1", domain.StatusInProgress, domain.RoleBuyer)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.True(t, apiErr.StateChanged())
	assert.Equal(t, "Invalid status transition from pending to in_progress", apiErr.Message)
}

func TestClient_OpenTradeUnknownOffer(t *testing.T) {
	api := newAPIServer(t)

	_, err := NewClient(api.URL, api.token(t, buyerID)).
		OpenTrade(context.Background(), "offer-x", decimal.RequireFromString("100000"))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestAct(t *testing.T) {
	api := newAPIServer(t)
	api.seed(t, newTrade("trade-1", domain.StatusPending))

	client := NewClient(api.URL, api.token(t, sellerID))
	view := NewView(newTrade("trade-1", domain.StatusPending), domain.RoleSeller, nil)

	require.NoError(t, Act(context.Background(), client, view, view.Action().Target))
	snap := view.Snapshot()
	assert.Equal(t, domain.StatusInProgress, snap.Trade.Status)
	assert.True(t, snap.Optimistic)
	assert.NoError(t, snap.ActionErr)

	// not the seller's turn any more
	err := Act(context.Background(), client, view, domain.StatusPaymentSent)
	require.Error(t, err)
	snap = view.Snapshot()
	assert.Equal(t, domain.StatusInProgress, snap.Trade.Status)
	assert.Error(t, snap.ActionErr)
}

func TestAPIError(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 500, Message: "Failed to update trade"}).Retryable())
	assert.False(t, (&APIError{StatusCode: 400, Message: "Missing required fields"}).StateChanged())
	assert.Equal(t, "api error 403: Unauthorized", (&APIError{StatusCode: 403, Message: "Unauthorized"}).Error())
}
