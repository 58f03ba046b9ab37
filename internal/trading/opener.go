package trading

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"confianza/internal/domain"
	"confianza/internal/observability"
	"confianza/internal/storage"
)

// CryptoPrecision is the number of decimal places crypto amounts are rounded
// to when derived from a fiat amount.
const CryptoPrecision = 8

// OpenRequest asks to open a trade against an offer. The requester becomes
// the buyer.
type OpenRequest struct {
	OfferID     string
	RequesterID string
	FiatAmount  decimal.Decimal
}

// Opener creates pending trades from offers.
type Opener struct {
	offers storage.OfferStore
	trades storage.TradeStore
	logger logrus.FieldLogger
	now    func() time.Time
	newID  func() string
	escrow func() (string, error)
}

// NewOpener creates an opener.
func NewOpener(offers storage.OfferStore, trades storage.TradeStore, logger logrus.FieldLogger) *Opener {
	return &Opener{
		offers: offers,
		trades: trades,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
		escrow: mockEscrowAddress,
	}
}

// Open validates req against the offer and persists a pending trade.
func (o *Opener) Open(ctx context.Context, req OpenRequest) (*domain.Trade, error) {
	log := o.logger.WithFields(logrus.Fields{
		"offer_id": req.OfferID,
		"user_id":  req.RequesterID,
		"amount":   req.FiatAmount.String(),
	})

	trade, err := o.open(ctx, req)
	switch {
	case err == nil:
		log.WithFields(logrus.Fields{
			"trade_id":  trade.ID,
			"buyer_id":  trade.BuyerID,
			"seller_id": trade.SellerID,
		}).Info("trade created")
		observability.RecordTradeOpened("created")
	case errors.Is(err, ErrPersistence):
		log.WithError(err).Error("failed to create trade")
		observability.RecordTradeOpened("failed")
	default:
		log.WithError(err).Warn("trade creation rejected")
		observability.RecordTradeOpened("rejected")
	}
	return trade, err
}

func (o *Opener) open(ctx context.Context, req OpenRequest) (*domain.Trade, error) {
	if req.RequesterID == "" {
		return nil, ErrUnauthenticated
	}
	if req.OfferID == "" {
		return nil, ErrMissingFields
	}

	offer, err := o.offers.GetByID(ctx, req.OfferID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("%w: load offer: %w", ErrPersistence, err)
	}

	if offer.Status != domain.OfferActive {
		return nil, ErrOfferUnavailable
	}
	if offer.UserID == req.RequesterID {
		return nil, ErrSelfTrade
	}
	if !req.FiatAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.FiatAmount.LessThan(offer.MinTradeLimit) || req.FiatAmount.GreaterThan(offer.MaxTradeLimit) {
		return nil, fmt.Errorf("%w: must be between %s and %s %s",
			ErrAmountOutOfRange, offer.MinTradeLimit, offer.MaxTradeLimit, offer.FiatCurrency)
	}

	crypto := req.FiatAmount.DivRound(offer.PricePerCrypto, CryptoPrecision)
	if crypto.GreaterThan(offer.AvailableAmount) {
		return nil, ErrInsufficientLiquidity
	}

	address, err := o.escrow()
	if err != nil {
		return nil, fmt.Errorf("%w: escrow address: %w", ErrPersistence, err)
	}

	now := o.now().UTC()
	trade := &domain.Trade{
		ID:                    o.newID(),
		OfferID:               offer.ID,
		BuyerID:               req.RequesterID,
		SellerID:              offer.UserID,
		Status:                domain.StatusPending,
		CryptoAmount:          crypto,
		FiatAmount:            req.FiatAmount,
		FeeAmountUSD:          decimal.Zero,
		EscrowContractAddress: address,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := o.trades.Insert(ctx, trade); err != nil {
		return nil, fmt.Errorf("%w: insert trade: %w", ErrPersistence, err)
	}
	return trade, nil
}

// mockEscrowAddress returns a random EVM-style address. Escrow is not backed
// by a contract yet.
func mockEscrowAddress() (string, error) {
	var b [20]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b[:]), nil
}
