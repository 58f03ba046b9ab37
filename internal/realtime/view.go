// Package realtime keeps a participant's local copy of one trade in step with
// committed changes, and drives status actions against the HTTP API.
package realtime

import (
	"sync"

	"confianza/internal/domain"
	"confianza/internal/lifecycle"
)

// ConnState is the state of the change subscription behind a View.
type ConnState string

// Connection states. Subscribed may be followed by Error or Closed.
const (
	StateConnecting ConnState = "connecting"
	StateSubscribed ConnState = "subscribed"
	StateError      ConnState = "error"
	StateClosed     ConnState = "closed"
)

// Snapshot is a point-in-time copy of a View.
type Snapshot struct {
	Trade domain.Trade
	Role  domain.Role
	Conn  ConnState
	// ConnErr is why the subscription failed, set with StateError.
	ConnErr error
	// Optimistic is true while Trade.Status is a local guess the feed has
	// not confirmed yet.
	Optimistic bool
	// ActionErr is the error of the last failed action, cleared by the next
	// successful one.
	ActionErr error
	Action    lifecycle.Presentation
}

// Connected reports whether changes are currently being received.
func (s Snapshot) Connected() bool {
	return s.Conn == StateSubscribed
}

// View is the locally held copy of one trade. It is safe for concurrent use.
type View struct {
	mu         sync.Mutex
	trade      domain.Trade
	role       domain.Role
	conn       ConnState
	connErr    error
	optimistic bool
	actionErr  error

	onChange func(Snapshot)
}

// NewView starts a view from trade as seen by role. onChange, if set, is
// called after every change with the new snapshot.
func NewView(trade *domain.Trade, role domain.Role, onChange func(Snapshot)) *View {
	return &View{
		trade:    copyTrade(trade),
		role:     role,
		conn:     StateConnecting,
		onChange: onChange,
	}
}

// TradeID returns the id of the viewed trade.
func (v *View) TradeID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.trade.ID
}

// Snapshot returns the current state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

// Connected reports whether the subscription is live.
func (v *View) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conn == StateSubscribed
}

// Action returns what the participant can do at the current local status.
func (v *View) Action() lifecycle.Presentation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return lifecycle.PresentAction(v.trade.Status, v.role)
}

// ApplyOptimistic sets the local status ahead of confirmation.
func (v *View) ApplyOptimistic(status domain.TradeStatus) {
	v.update(func() {
		v.trade.Status = status
		v.optimistic = true
		v.actionErr = nil
	})
}

// ApplyConfirmed merges a committed change. It always wins over an
// optimistic guess. Changes for other trades are ignored and reported as
// false.
func (v *View) ApplyConfirmed(p domain.TradePatch) bool {
	applied := false
	v.update(func() {
		if p.TradeID != v.trade.ID {
			return
		}
		p.Apply(&v.trade)
		v.optimistic = false
		applied = true
	})
	return applied
}

func (v *View) setActionError(err error) {
	v.update(func() { v.actionErr = err })
}

// setConn records a connection state change. The trade is left as is, so a
// failed view keeps showing the last known state.
func (v *View) setConn(state ConnState, err error) {
	v.update(func() {
		v.conn = state
		v.connErr = err
	})
}

func (v *View) update(fn func()) {
	v.mu.Lock()
	fn()
	snap := v.snapshotLocked()
	v.mu.Unlock()

	if v.onChange != nil {
		v.onChange(snap)
	}
}

func (v *View) snapshotLocked() Snapshot {
	return Snapshot{
		Trade:      copyTrade(&v.trade),
		Role:       v.role,
		Conn:       v.conn,
		ConnErr:    v.connErr,
		Optimistic: v.optimistic,
		ActionErr:  v.actionErr,
		Action:     lifecycle.PresentAction(v.trade.Status, v.role),
	}
}

func copyTrade(t *domain.Trade) domain.Trade {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return c
}
