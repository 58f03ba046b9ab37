package realtime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confianza/internal/domain"
	"confianza/internal/lifecycle"
)

func TestView_ConfirmedOverwritesOptimistic(t *testing.T) {
	v := NewView(newTrade("trade-1", domain.StatusInProgress), domain.RoleBuyer, nil)

	v.ApplyOptimistic(domain.StatusPaymentSent)
	snap := v.Snapshot()
	assert.True(t, snap.Optimistic)
	assert.Equal(t, domain.StatusPaymentSent, snap.Trade.Status)

	// the feed reports something else committed first
	at := createdAt.Add(time.Minute)
	applied := v.ApplyConfirmed(domain.TradePatch{
		TradeID:   "trade-1",
		Status:    domain.StatusDisputed,
		UpdatedAt: at,
	})
	require.True(t, applied)

	snap = v.Snapshot()
	assert.False(t, snap.Optimistic)
	assert.Equal(t, domain.StatusDisputed, snap.Trade.Status)
	assert.True(t, at.Equal(snap.Trade.UpdatedAt))
	assert.Equal(t, "1950", snap.Trade.FiatAmount.String())
}

func TestView_IgnoresOtherTrades(t *testing.T) {
	v := NewView(newTrade("trade-1", domain.StatusPending), domain.RoleSeller, nil)

	applied := v.ApplyConfirmed(domain.TradePatch{TradeID: "trade-2", Status: domain.StatusCancelled})
	assert.False(t, applied)
	assert.Equal(t, domain.StatusPending, v.Snapshot().Trade.Status)
}

func TestView_CompletedAtFollowsPatch(t *testing.T) {
	v := NewView(newTrade("trade-1", domain.StatusPaymentSent), domain.RoleSeller, nil)

	done := createdAt.Add(time.Hour)
	v.ApplyConfirmed(domain.TradePatch{
		TradeID: "trade-1", Status: domain.StatusCompleted, UpdatedAt: done, CompletedAt: &done,
	})

	snap := v.Snapshot()
	require.NotNil(t, snap.Trade.CompletedAt)
	assert.True(t, done.Equal(*snap.Trade.CompletedAt))
	assert.Equal(t, lifecycle.KindTerminal, snap.Action.Kind)

	// snapshots do not alias view state
	*snap.Trade.CompletedAt = time.Time{}
	assert.True(t, done.Equal(*v.Snapshot().Trade.CompletedAt))
}

func TestView_ErrorKeepsLastState(t *testing.T) {
	v := NewView(newTrade("trade-1", domain.StatusInProgress), domain.RoleBuyer, nil)
	assert.False(t, v.Connected())

	v.setConn(StateSubscribed, nil)
	assert.True(t, v.Connected())

	boom := errors.New("boom")
	v.setConn(StateError, boom)

	snap := v.Snapshot()
	assert.False(t, snap.Connected())
	assert.Equal(t, StateError, snap.Conn)
	assert.ErrorIs(t, snap.ConnErr, boom)
	assert.Equal(t, domain.StatusInProgress, snap.Trade.Status)
}

func TestView_ActionFollowsLocalStatus(t *testing.T) {
	v := NewView(newTrade("trade-1", domain.StatusInProgress), domain.RoleBuyer, nil)

	action := v.Action()
	assert.True(t, action.Enabled)
	assert.Equal(t, domain.StatusPaymentSent, action.Target)

	v.ApplyOptimistic(domain.StatusPaymentSent)
	assert.Equal(t, lifecycle.KindWaiting, v.Action().Kind)
}

func TestView_NotifiesChanges(t *testing.T) {
	onChange, ch := snapshots()
	v := NewView(newTrade("trade-1", domain.StatusPending), domain.RoleSeller, onChange)

	v.ApplyOptimistic(domain.StatusInProgress)
	snap := <-ch
	assert.Equal(t, domain.StatusInProgress, snap.Trade.Status)
	assert.True(t, snap.Optimistic)
}
