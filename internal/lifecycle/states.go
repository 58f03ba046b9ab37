package lifecycle

import (
	"fmt"

	"confianza/internal/domain"
)

// TradeState is the static description of one status.
type TradeState struct {
	Status        domain.TradeStatus `json:"status"`
	Title         string             `json:"title"`
	Description   string             `json:"description"`
	BuyerActions  []string           `json:"buyerActions"`
	SellerActions []string           `json:"sellerActions"`
	CanDispute    bool               `json:"canDispute"`
	IsComplete    bool               `json:"isComplete"`
	// NextStatus is the happy-path successor, empty when there is none.
	NextStatus domain.TradeStatus `json:"nextStatus,omitempty"`
}

type stateCopy struct {
	title         string
	description   string
	buyerActions  []string
	sellerActions []string
	canDispute    bool
	isComplete    bool
}

var stateCopies = map[domain.TradeStatus]stateCopy{
	domain.StatusPending: {
		title:         "Trade Initiated",
		description:   "Waiting for seller to deposit crypto into escrow",
		buyerActions:  []string{"Wait for seller deposit"},
		sellerActions: []string{"Deposit crypto to escrow"},
	},
	domain.StatusInProgress: {
		title:         "Escrow Funded",
		description:   "Seller has deposited crypto. Buyer should now send fiat payment.",
		buyerActions:  []string{"Send fiat payment", "Mark payment as sent"},
		sellerActions: []string{"Wait for buyer payment"},
		canDispute:    true,
	},
	domain.StatusPaymentSent: {
		title:         "Payment Sent",
		description:   "Buyer has marked payment as sent. Seller should verify and confirm receipt.",
		buyerActions:  []string{"Wait for seller confirmation"},
		sellerActions: []string{"Verify payment received", "Confirm payment"},
		canDispute:    true,
	},
	domain.StatusCompleted: {
		title:         "Trade Complete",
		description:   "Trade has been successfully completed. Crypto has been released to buyer.",
		buyerActions:  []string{"Leave feedback"},
		sellerActions: []string{"Leave feedback"},
		isComplete:    true,
	},
	domain.StatusDisputed: {
		title:         "Trade Disputed",
		description:   "A dispute has been opened. Please wait for admin resolution.",
		buyerActions:  []string{"Wait for resolution"},
		sellerActions: []string{"Wait for resolution"},
	},
	domain.StatusCancelled: {
		title:       "Trade Cancelled",
		description: "This trade has been cancelled.",
		isComplete:  true,
	},
}

var states = buildStates()

// buildStates joins display copy with the transition graph. NextStatus is
// derived from the graph, never written by hand.
func buildStates() map[domain.TradeStatus]TradeState {
	out := make(map[domain.TradeStatus]TradeState, len(stateCopies))
	for status, c := range stateCopies {
		out[status] = TradeState{
			Status:        status,
			Title:         c.title,
			Description:   c.description,
			BuyerActions:  c.buyerActions,
			SellerActions: c.sellerActions,
			CanDispute:    c.canDispute,
			IsComplete:    c.isComplete,
			NextStatus:    happyPathSuccessor(status),
		}
	}
	return out
}

// happyPathSuccessor returns the single non-interrupt successor of s, or ""
// if there is none or it is ambiguous. Verify rejects the ambiguous case.
func happyPathSuccessor(s domain.TradeStatus) domain.TradeStatus {
	var next domain.TradeStatus
	for _, candidate := range transitions[s] {
		if isInterrupt(candidate) {
			continue
		}
		if next != "" {
			return ""
		}
		next = candidate
	}
	return next
}

// State returns the table entry for status.
func State(status domain.TradeStatus) (TradeState, bool) {
	st, ok := states[status]
	return st, ok
}

// NextStatus returns the happy-path successor of status.
func NextStatus(status domain.TradeStatus) (domain.TradeStatus, bool) {
	st, ok := states[status]
	if !ok || st.NextStatus == "" {
		return "", false
	}
	return st.NextStatus, true
}

// CanDispute reports whether either participant may open a dispute at status
// regardless of whose turn it is.
func CanDispute(status domain.TradeStatus) bool {
	return states[status].CanDispute
}

// AvailableActions returns the informational action list for role.
func AvailableActions(status domain.TradeStatus, role domain.Role) []string {
	st := states[status]
	if role == domain.RoleBuyer {
		return st.BuyerActions
	}
	return st.SellerActions
}

// Verify checks that the state table and the transition graph agree:
// every status has an entry, every non-terminal status has a happy-path
// successor that is a legal edge, terminal statuses have none, and dispute
// eligibility only exists where the graph allows disputing.
func Verify() error {
	for _, status := range domain.AllStatuses {
		st, ok := states[status]
		if !ok {
			return fmt.Errorf("status %s has no state table entry", status)
		}
		if _, ok := transitions[status]; !ok {
			return fmt.Errorf("status %s missing from transition graph", status)
		}

		if IsTerminal(status) {
			if st.NextStatus != "" {
				return fmt.Errorf("terminal status %s declares next status %s", status, st.NextStatus)
			}
			if st.CanDispute {
				return fmt.Errorf("terminal status %s allows disputes", status)
			}
			continue
		}

		if st.NextStatus == "" {
			return fmt.Errorf("status %s has no unambiguous happy-path successor", status)
		}
		if !CanTransition(status, st.NextStatus) {
			return fmt.Errorf("next status %s is not reachable from %s", st.NextStatus, status)
		}
		if st.CanDispute && !CanTransition(status, domain.StatusDisputed) {
			return fmt.Errorf("status %s allows disputes but the graph does not", status)
		}
	}
	if _, ok := turns[domain.StatusPending]; !ok {
		return fmt.Errorf("pending status has no eligible role")
	}
	for status := range turns {
		if IsTerminal(status) {
			return fmt.Errorf("terminal status %s has an eligible role", status)
		}
	}
	return nil
}
