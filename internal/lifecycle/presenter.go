package lifecycle

import (
	"confianza/internal/domain"
)

// ActionKind classifies the primary action shown to a participant.
type ActionKind string

// Action kinds.
const (
	KindAction   ActionKind = "action"   // enabled call to action
	KindWaiting  ActionKind = "waiting"  // counterparty's turn
	KindTerminal ActionKind = "terminal" // nothing left to do here
)

// DisputeLabel is the label of the dispute control.
const DisputeLabel = "Report a Problem"

// Presentation is the derived view of what a participant can do.
type Presentation struct {
	Label   string     `json:"label"`
	Enabled bool       `json:"enabled"`
	Kind    ActionKind `json:"kind"`
	// Target is the status the primary action requests, set only when Enabled.
	Target domain.TradeStatus `json:"target,omitempty"`
	// DisputeAvailable is independent of the primary action.
	DisputeAvailable bool `json:"disputeAvailable"`
}

type turnLabels struct {
	act  string
	wait string
}

var labels = map[domain.TradeStatus]turnLabels{
	domain.StatusPending:     {act: "Deposit Crypto to Escrow", wait: "Waiting for Seller"},
	domain.StatusInProgress:  {act: "Mark Payment as Sent", wait: "Waiting for Buyer Payment"},
	domain.StatusPaymentSent: {act: "Confirm Payment Received", wait: "Waiting for Seller Confirmation"},
}

// PresentAction maps (current, role) to exactly one primary action plus the
// dispute flag. Any enabled action it returns is accepted by Authorize.
func PresentAction(current domain.TradeStatus, role domain.Role) Presentation {
	p := Presentation{DisputeAvailable: CanDispute(current)}

	switch current {
	case domain.StatusCompleted:
		p.Label, p.Kind = "Trade Complete", KindTerminal
		return p
	case domain.StatusCancelled:
		p.Label, p.Kind = "Trade Cancelled", KindTerminal
		return p
	case domain.StatusDisputed:
		p.Label, p.Kind = "Awaiting Resolution", KindTerminal
		return p
	}

	l, ok := labels[current]
	next, hasNext := NextStatus(current)
	if !ok || !hasNext {
		p.Label, p.Kind = "No Action Available", KindTerminal
		return p
	}

	if !CanAct(current, role) || Authorize(current, role, next) != nil {
		p.Label, p.Kind = l.wait, KindWaiting
		return p
	}

	p.Label, p.Kind, p.Enabled, p.Target = l.act, KindAction, true, next
	return p
}

type progressStep struct {
	status      domain.TradeStatus
	label       string
	description string
}

// ProgressStep is one step of the happy path as displayed to participants.
type ProgressStep struct {
	Status      domain.TradeStatus `json:"status"`
	Label       string             `json:"label"`
	Description string             `json:"description"`
}

var progressSteps = []progressStep{
	{domain.StatusPending, "Initiated", "Trade created"},
	{domain.StatusInProgress, "Escrow Funded", "Crypto deposited"},
	{domain.StatusPaymentSent, "Payment Sent", "Fiat transferred"},
	{domain.StatusCompleted, "Complete", "Trade finished"},
}

// ProgressSteps returns the happy-path steps in order.
func ProgressSteps() []ProgressStep {
	out := make([]ProgressStep, len(progressSteps))
	for i, s := range progressSteps {
		out[i] = ProgressStep{Status: s.status, Label: s.label, Description: s.description}
	}
	return out
}

// Progress returns the index of status along the happy path. Disputed and
// cancelled trades are off the track.
func Progress(status domain.TradeStatus) (int, bool) {
	for i, s := range progressSteps {
		if s.status == status {
			return i, true
		}
	}
	return -1, false
}
