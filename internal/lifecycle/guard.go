package lifecycle

import (
	"confianza/internal/domain"
)

// turns maps each active status to the only role allowed to advance it.
// Terminal and frozen statuses are absent.
var turns = map[domain.TradeStatus]domain.Role{
	domain.StatusPending:     domain.RoleSeller, // deposits to escrow
	domain.StatusInProgress:  domain.RoleBuyer,  // marks payment sent
	domain.StatusPaymentSent: domain.RoleSeller, // confirms receipt
}

// EligibleRole returns the role whose turn it is at status.
func EligibleRole(status domain.TradeStatus) (domain.Role, bool) {
	role, ok := turns[status]
	return role, ok
}

// CanAct reports whether role may initiate a turn-based transition at
// current.
func CanAct(current domain.TradeStatus, role domain.Role) bool {
	eligible, ok := turns[current]
	return ok && eligible == role
}

// Authorize decides whether a participant holding role may move a trade from
// current to requested. Disputes are an interrupt: they are open to either
// participant wherever the state table allows them. Everything else must be
// the participant's turn and a legal edge of the graph.
//
// Membership is checked by the caller; role must already be derived from the
// stored trade.
func Authorize(current domain.TradeStatus, role domain.Role, requested domain.TradeStatus) error {
	if requested == domain.StatusDisputed && CanDispute(current) {
		return nil
	}
	if !CanAct(current, role) {
		return &InvalidTransitionError{
			From:   current,
			To:     requested,
			Reason: "not the " + role.String() + "'s turn",
		}
	}
	return ValidateTransition(current, requested)
}
