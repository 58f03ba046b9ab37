package trading

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confianza/internal/domain"
	"confianza/internal/storage"
	"confianza/internal/storage/memory"
)

func seedOffer(t *testing.T, offers *memory.OfferStore, id string, status domain.OfferStatus) *domain.Offer {
	t.Helper()

	o := &domain.Offer{
		ID:              id,
		UserID:          sellerID,
		Status:          status,
		CryptoAsset:     "USDC",
		FiatCurrency:    "COP",
		PricePerCrypto:  decimal.RequireFromString("3900"),
		MinTradeLimit:   decimal.RequireFromString("50000"),
		MaxTradeLimit:   decimal.RequireFromString("2000000"),
		AvailableAmount: decimal.RequireFromString("250"),
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	require.NoError(t, offers.Insert(context.Background(), o))
	return o
}

func newOpener(t *testing.T) (*Opener, *memory.OfferStore, *memory.TradeStore) {
	t.Helper()

	offers := memory.NewOfferStore()
	trades := memory.NewTradeStore(nil)
	logger, _ := test.NewNullLogger()

	o := NewOpener(offers, trades, logger)
	o.now = func() time.Time { return fixedNow }
	return o, offers, trades
}

var escrowPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

func TestOpen_CreatesPendingTrade(t *testing.T) {
	opener, offers, trades := newOpener(t)
	seedOffer(t, offers, "offer-1", domain.OfferActive)

	got, err := opener.Open(context.Background(), OpenRequest{
		OfferID:     "offer-1",
		RequesterID: buyerID,
		FiatAmount:  decimal.RequireFromString("100000"),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, buyerID, got.BuyerID)
	assert.Equal(t, sellerID, got.SellerID)
	assert.Equal(t, "offer-1", got.OfferID)
	// 100000 / 3900 rounded to 8 places
	assert.Equal(t, "25.64102564", got.CryptoAmount.String())
	assert.True(t, got.FeeAmountUSD.IsZero())
	assert.Regexp(t, escrowPattern, got.EscrowContractAddress)
	assert.Nil(t, got.CompletedAt)
	assert.True(t, fixedNow.Equal(got.CreatedAt))

	stored, err := trades.GetByID(context.Background(), got.ID)
	require.NoError(t, err)
	assert.Equal(t, got.EscrowContractAddress, stored.EscrowContractAddress)
}

func TestOpen_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		offerID   string
		requester string
		amount    string
		want      error
	}{
		{"unauthenticated", "offer-1", "", "100000", ErrUnauthenticated},
		{"missing offer id", "", buyerID, "100000", ErrMissingFields},
		{"unknown offer", "offer-x", buyerID, "100000", ErrOfferNotFound},
		{"paused offer", "offer-paused", buyerID, "100000", ErrOfferUnavailable},
		{"own offer", "offer-1", sellerID, "100000", ErrSelfTrade},
		{"zero amount", "offer-1", buyerID, "0", ErrInvalidAmount},
		{"negative amount", "offer-1", buyerID, "-5", ErrInvalidAmount},
		{"below min", "offer-1", buyerID, "49999.99", ErrAmountOutOfRange},
		{"above max", "offer-1", buyerID, "2000000.01", ErrAmountOutOfRange},
		{"exceeds liquidity", "offer-1", buyerID, "1000000", ErrInsufficientLiquidity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener, offers, trades := newOpener(t)
			seedOffer(t, offers, "offer-1", domain.OfferActive)
			seedOffer(t, offers, "offer-paused", domain.OfferPaused)

			_, err := opener.Open(context.Background(), OpenRequest{
				OfferID:     tt.offerID,
				RequesterID: tt.requester,
				FiatAmount:  decimal.RequireFromString(tt.amount),
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)

			mine, _ := trades.GetByParticipant(context.Background(), buyerID)
			assert.Empty(t, mine)
		})
	}
}

func TestOpen_RangeMessageNamesLimits(t *testing.T) {
	opener, offers, _ := newOpener(t)
	seedOffer(t, offers, "offer-1", domain.OfferActive)

	_, err := opener.Open(context.Background(), OpenRequest{
		OfferID: "offer-1", RequesterID: buyerID, FiatAmount: decimal.RequireFromString("10"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "between 50000 and 2000000 COP")
}

// rejectingTrades fails every insert.
type rejectingTrades struct {
	*memory.TradeStore
}

func (rejectingTrades) Insert(context.Context, *domain.Trade) error {
	return storage.ErrDuplicateKey
}

func TestOpen_InsertFailureIsPersistence(t *testing.T) {
	offers := memory.NewOfferStore()
	seedOffer(t, offers, "offer-1", domain.OfferActive)
	logger, hook := test.NewNullLogger()

	opener := NewOpener(offers, rejectingTrades{memory.NewTradeStore(nil)}, logger)
	_, err := opener.Open(context.Background(), OpenRequest{
		OfferID: "offer-1", RequesterID: buyerID, FiatAmount: decimal.RequireFromString("100000"),
	})
	assert.ErrorIs(t, err, ErrPersistence)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "failed to create trade", hook.LastEntry().Message)
}

func TestMockEscrowAddress(t *testing.T) {
	a, err := mockEscrowAddress()
	require.NoError(t, err)
	b, err := mockEscrowAddress()
	require.NoError(t, err)

	assert.Regexp(t, escrowPattern, a)
	assert.NotEqual(t, a, b)
}
