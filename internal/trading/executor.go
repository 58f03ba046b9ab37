// Package trading executes trade lifecycle requests against storage: status
// transitions and opening new trades.
package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"confianza/internal/domain"
	"confianza/internal/lifecycle"
	"confianza/internal/observability"
	"confianza/internal/storage"
)

// StatusRequest asks for one status transition.
type StatusRequest struct {
	TradeID     string
	RequesterID string // from the authenticated session, empty if none
	NewStatus   domain.TradeStatus
	// ClaimedRole is what the client says it is. It is logged and audited but
	// never used for authorization; the role is derived from the stored trade.
	ClaimedRole string
}

// Executor applies status transitions. It holds no per-trade state; the
// conditional update in storage serializes concurrent requests.
type Executor struct {
	trades storage.TradeStore
	events storage.TransitionEventStore // optional
	logger logrus.FieldLogger
	now    func() time.Time
	newID  func() string
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithAuditTrail appends every outcome to events.
func WithAuditTrail(events storage.TransitionEventStore) ExecutorOption {
	return func(e *Executor) { e.events = events }
}

// NewExecutor creates an executor over trades.
func NewExecutor(trades storage.TradeStore, logger logrus.FieldLogger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		trades: trades,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute moves a trade to req.NewStatus on behalf of req.RequesterID and
// returns the updated record.
func (e *Executor) Execute(ctx context.Context, req StatusRequest) (*domain.Trade, error) {
	start := time.Now()
	ev := &domain.TransitionEvent{
		TradeID:     req.TradeID,
		RequesterID: req.RequesterID,
		ClaimedRole: req.ClaimedRole,
		ToStatus:    req.NewStatus,
	}

	trade, err := e.execute(ctx, req, ev)

	ev.EventID = e.newID()
	ev.OccurredAt = e.now().UTC()
	switch {
	case err == nil:
		ev.Outcome = domain.OutcomeApplied
	case errors.Is(err, ErrPersistence):
		ev.Outcome = domain.OutcomeFailed
		ev.Reason = err.Error()
	default:
		ev.Outcome = domain.OutcomeRejected
		ev.Reason = err.Error()
	}
	e.report(ctx, ev, err)

	observability.RecordTransition(statusLabel(ev.FromStatus), statusLabel(req.NewStatus), string(ev.Outcome), time.Since(start).Seconds())

	return trade, err
}

func (e *Executor) execute(ctx context.Context, req StatusRequest, ev *domain.TransitionEvent) (*domain.Trade, error) {
	if req.RequesterID == "" {
		return nil, ErrUnauthenticated
	}
	if req.TradeID == "" || req.NewStatus == "" {
		return nil, ErrMissingFields
	}

	trade, err := e.trades.GetByID(ctx, req.TradeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: load trade: %w", ErrPersistence, err)
	}
	ev.FromStatus = trade.Status

	role, ok := trade.RoleOf(req.RequesterID)
	if !ok {
		return nil, ErrForbidden
	}
	ev.Role = role

	if err := lifecycle.Authorize(trade.Status, role, req.NewStatus); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	update := storage.StatusUpdate{
		Expected:  trade.Status,
		Status:    req.NewStatus,
		UpdatedAt: now,
	}
	if req.NewStatus == domain.StatusCompleted {
		update.CompletedAt = &now
	}

	updated, err := e.trades.UpdateStatus(ctx, trade.ID, update)
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, storage.ErrStaleStatus):
		return nil, &lifecycle.InvalidTransitionError{
			From:   trade.Status,
			To:     req.NewStatus,
			Reason: "status changed since it was read",
		}
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("%w: update trade: %w", ErrPersistence, err)
	}
}

// statusLabel bounds metric cardinality to the known statuses.
func statusLabel(s domain.TradeStatus) string {
	if !s.Valid() {
		return "unknown"
	}
	return string(s)
}

// report logs the outcome and appends it to the audit trail. Audit failures
// never change the outcome.
func (e *Executor) report(ctx context.Context, ev *domain.TransitionEvent, err error) {
	log := e.logger.WithFields(logrus.Fields{
		"trade_id":         ev.TradeID,
		"user_id":          ev.RequesterID,
		"user_role":        ev.ClaimedRole,
		"old_status":       string(ev.FromStatus),
		"requested_status": string(ev.ToStatus),
	})
	if ev.Role != "" {
		log = log.WithField("derived_role", string(ev.Role))
	}

	switch ev.Outcome {
	case domain.OutcomeApplied:
		log.WithField("new_status", string(ev.ToStatus)).Info("trade status updated")
	case domain.OutcomeFailed:
		log.WithError(err).Error("failed to update trade status")
	default:
		log.WithError(err).Warn("trade status update rejected")
	}

	if e.events == nil || ev.TradeID == "" {
		return
	}
	// outlives cancellation of the request context
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.events.Insert(auditCtx, ev); err != nil {
		observability.RecordAuditWriteError()
		log.WithError(err).WithField("event_id", ev.EventID).Error("failed to record transition event")
	}
}
