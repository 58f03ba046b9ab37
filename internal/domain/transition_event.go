package domain

import "time"

// TransitionOutcome classifies a transition request.
type TransitionOutcome string

// Transition outcomes.
const (
	OutcomeApplied  TransitionOutcome = "applied"
	OutcomeRejected TransitionOutcome = "rejected"
	OutcomeFailed   TransitionOutcome = "failed" // persistence failure after validation
)

// TransitionEvent is the audit record of one status transition request,
// successful or not. Corresponds to the transition_events table.
type TransitionEvent struct {
	EventID     string
	TradeID     string
	RequesterID string
	ClaimedRole string // as sent by the client, advisory only
	Role        Role   // derived from the stored trade, empty if not a participant
	FromStatus  TradeStatus
	ToStatus    TradeStatus
	Outcome     TransitionOutcome
	Reason      string // error text for rejected/failed requests
	OccurredAt  time.Time
}
