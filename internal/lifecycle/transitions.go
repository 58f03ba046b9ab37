// Package lifecycle encodes the trade status machine: which transitions are
// legal, who may trigger them, and how each status is presented.
package lifecycle

import (
	"errors"
	"fmt"

	"confianza/internal/domain"
)

// transitions is the sole source of truth for transition legality.
// Each key is a "from" status, the value lists the valid "to" statuses.
// Terminal statuses have no outgoing transitions and there are no self-loops.
var transitions = map[domain.TradeStatus][]domain.TradeStatus{
	domain.StatusPending: {
		domain.StatusInProgress,
		domain.StatusCancelled,
		domain.StatusDisputed,
	},
	domain.StatusInProgress: {
		domain.StatusPaymentSent,
		domain.StatusCancelled,
		domain.StatusDisputed,
	},
	domain.StatusPaymentSent: {
		domain.StatusCompleted,
		domain.StatusDisputed,
	},
	domain.StatusCompleted: {},
	domain.StatusDisputed:  {}, // resolution happens outside this service
	domain.StatusCancelled: {},
}

// ErrInvalidTransition is matched by every *InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid status transition")

// InvalidTransitionError reports a rejected transition request.
type InvalidTransitionError struct {
	From   domain.TradeStatus
	To     domain.TradeStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrInvalidTransition) hold.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// AllowedNextStatuses returns the statuses reachable from current in one
// step. The result is a fresh slice, empty for terminal or unknown statuses.
func AllowedNextStatuses(current domain.TradeStatus) []domain.TradeStatus {
	next := transitions[current]
	out := make([]domain.TradeStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is an edge of the graph.
func CanTransition(from, to domain.TradeStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an *InvalidTransitionError if from -> to is not
// an edge of the graph.
func ValidateTransition(from, to domain.TradeStatus) error {
	if _, known := transitions[from]; !known {
		return &InvalidTransitionError{From: from, To: to, Reason: "unknown current status"}
	}
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s domain.TradeStatus) bool {
	return len(transitions[s]) == 0
}

// isInterrupt reports whether s is reached by stepping off the happy path.
func isInterrupt(s domain.TradeStatus) bool {
	return s == domain.StatusCancelled || s == domain.StatusDisputed
}
