package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the lifecycle status of a trade. Values round-trip unchanged
// through storage and the wire format.
type TradeStatus string

// Trade statuses.
const (
	StatusPending     TradeStatus = "pending"
	StatusInProgress  TradeStatus = "in_progress"
	StatusPaymentSent TradeStatus = "payment_sent"
	StatusCompleted   TradeStatus = "completed"
	StatusDisputed    TradeStatus = "disputed"
	StatusCancelled   TradeStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []TradeStatus{
	StatusPending,
	StatusInProgress,
	StatusPaymentSent,
	StatusCompleted,
	StatusDisputed,
	StatusCancelled,
}

// ParseTradeStatus validates a raw status string.
func ParseTradeStatus(s string) (TradeStatus, error) {
	status := TradeStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown trade status %q", s)
	}
	return status, nil
}

// Valid reports whether s is one of the known statuses.
func (s TradeStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s TradeStatus) String() string {
	return string(s)
}

// Role is the side a participant takes in a trade.
type Role string

// Participant roles.
const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// ParseRole validates a raw role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleBuyer, RoleSeller:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string {
	return string(r)
}

// Trade is a single buyer/seller crypto-for-fiat exchange.
// Corresponds to the trades table.
type Trade struct {
	ID      string `json:"id"`
	OfferID string `json:"offer_id"`
	BuyerID string `json:"buyer_id"`
	// SellerID is the owner of the offer the trade was opened against.
	SellerID string      `json:"seller_id"`
	Status   TradeStatus `json:"status"`

	CryptoAmount          decimal.Decimal `json:"crypto_amount"`
	FiatAmount            decimal.Decimal `json:"fiat_amount"`
	FeeAmountUSD          decimal.Decimal `json:"fee_amount_usd"`
	EscrowContractAddress string          `json:"escrow_contract_address"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"` // set iff Status == completed
}

// RoleOf returns the role userID plays in the trade, or false if userID is
// not a participant.
func (t *Trade) RoleOf(userID string) (Role, bool) {
	switch {
	case userID == "":
		return "", false
	case userID == t.BuyerID:
		return RoleBuyer, true
	case userID == t.SellerID:
		return RoleSeller, true
	default:
		return "", false
	}
}

// Counterparty returns the id of the other participant.
func (t *Trade) Counterparty(role Role) string {
	if role == RoleBuyer {
		return t.SellerID
	}
	return t.BuyerID
}

// Validate checks the creation-time invariants of a trade.
func (t *Trade) Validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("trade id is required")
	case t.OfferID == "":
		return fmt.Errorf("offer id is required")
	case t.BuyerID == "" || t.SellerID == "":
		return fmt.Errorf("buyer and seller are required")
	case t.BuyerID == t.SellerID:
		return fmt.Errorf("buyer and seller must differ")
	case !t.Status.Valid():
		return fmt.Errorf("invalid status %q", t.Status)
	case (t.Status == StatusCompleted) != (t.CompletedAt != nil):
		return fmt.Errorf("completed_at must be set iff status is completed")
	}
	return nil
}

// TradePatch carries the mutable fields of a trade row as committed by the
// datastore. It is what the change feed emits.
type TradePatch struct {
	TradeID     string      `json:"tradeId"`
	Status      TradeStatus `json:"status"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	CompletedAt *time.Time  `json:"completedAt"`
}

// PatchOf returns the committed mutable fields of t.
func PatchOf(t *Trade) TradePatch {
	return TradePatch{
		TradeID:     t.ID,
		Status:      t.Status,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
	}
}

// Apply merges the patch into t, last write wins on every patched field.
// Immutable fields are never touched.
func (p TradePatch) Apply(t *Trade) {
	t.Status = p.Status
	t.UpdatedAt = p.UpdatedAt
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		t.CompletedAt = &at
	} else {
		t.CompletedAt = nil
	}
}
