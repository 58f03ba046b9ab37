package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OfferStatus is the listing status of an offer.
type OfferStatus string

// Offer statuses.
const (
	OfferActive    OfferStatus = "active"
	OfferPaused    OfferStatus = "paused"
	OfferCompleted OfferStatus = "completed"
	OfferClosed    OfferStatus = "closed"
)

// PaymentMethod describes how the fiat leg is paid.
type PaymentMethod struct {
	Method  string `json:"method"`
	Details string `json:"details,omitempty"`
}

// Offer is a standing listing a seller publishes. Trades are opened against
// offers. Corresponds to the offers table.
type Offer struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Status         OfferStatus     `json:"status"`
	CryptoAsset    string          `json:"crypto_asset"`
	FiatCurrency   string          `json:"fiat_currency"`
	PricePerCrypto decimal.Decimal `json:"price_per_crypto"` // fiat per unit of crypto
	MinTradeLimit  decimal.Decimal `json:"min_trade_limit"`  // fiat
	MaxTradeLimit  decimal.Decimal `json:"max_trade_limit"`  // fiat
	// AvailableAmount is denominated in crypto.
	AvailableAmount decimal.Decimal `json:"available_amount"`
	PaymentMethod   *PaymentMethod  `json:"payment_method_details,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Validate checks listing invariants.
func (o *Offer) Validate() error {
	if o.ID == "" || o.UserID == "" {
		return fmt.Errorf("offer id and owner are required")
	}
	switch o.Status {
	case OfferActive, OfferPaused, OfferCompleted, OfferClosed:
	default:
		return fmt.Errorf("invalid offer status %q", o.Status)
	}
	if o.CryptoAsset == "" || o.FiatCurrency == "" {
		return fmt.Errorf("crypto asset and fiat currency are required")
	}
	if !o.PricePerCrypto.IsPositive() {
		return fmt.Errorf("price must be a positive number")
	}
	if !o.MinTradeLimit.IsPositive() || !o.MaxTradeLimit.IsPositive() {
		return fmt.Errorf("trade limits must be positive numbers")
	}
	if o.MinTradeLimit.GreaterThanOrEqual(o.MaxTradeLimit) {
		return fmt.Errorf("minimum trade limit must be less than maximum")
	}
	if !o.AvailableAmount.IsPositive() {
		return fmt.Errorf("available amount must be a positive number")
	}
	return nil
}
