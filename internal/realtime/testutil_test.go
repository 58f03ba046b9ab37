package realtime

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"confianza/internal/auth"
	"confianza/internal/domain"
	"confianza/internal/httpapi"
	"confianza/internal/storage/memory"
	"confianza/internal/trading"
)

const (
	buyerID  = "buyer-1"
	sellerID = "seller-1"
)

var createdAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTrade(id string, status domain.TradeStatus) *domain.Trade {
	return &domain.Trade{
		ID:                    id,
		OfferID:               "offer-1",
		BuyerID:               buyerID,
		SellerID:              sellerID,
		Status:                status,
		CryptoAmount:          decimal.RequireFromString("0.5"),
		FiatAmount:            decimal.RequireFromString("1950"),
		FeeAmountUSD:          decimal.Zero,
		EscrowContractAddress: "0x00000000000000000000000000000000000000aa",
		CreatedAt:             createdAt,
		UpdatedAt:             createdAt,
	}
}

// apiServer is a running API over memory stores.
type apiServer struct {
	*httptest.Server
	feed     *memory.ChangeFeed
	trades   *memory.TradeStore
	sessions *auth.Sessions
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()

	logger, _ := test.NewNullLogger()
	feed := memory.NewChangeFeed(0)
	trades := memory.NewTradeStore(feed)
	sessions := auth.NewSessions([]byte("0123456789abcdef"), "confianza_session", time.Hour)

	srv := httpapi.NewServer(httpapi.Options{
		Executor:     trading.NewExecutor(trades, logger),
		Opener:       trading.NewOpener(memory.NewOfferStore(), trades, logger),
		Trades:       trades,
		Feed:         feed,
		Sessions:     sessions,
		Logger:       logger,
		PingInterval: time.Second,
	})

	s := &apiServer{
		Server:   httptest.NewServer(srv.Handler()),
		feed:     feed,
		trades:   trades,
		sessions: sessions,
	}
	t.Cleanup(s.Close)
	return s
}

func (s *apiServer) seed(t *testing.T, tr *domain.Trade) {
	t.Helper()
	require.NoError(t, s.trades.Insert(context.Background(), tr))
}

func (s *apiServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.sessions.Issue(userID)
	require.NoError(t, err)
	return tok
}

// snapshots returns a View change callback and the channel it feeds.
func snapshots() (func(Snapshot), chan Snapshot) {
	ch := make(chan Snapshot, 64)
	return func(s Snapshot) { ch <- s }, ch
}

// waitFor reads snapshots until one satisfies ok.
func waitFor(t *testing.T, ch <-chan Snapshot, ok func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-ch:
			if ok(s) {
				return s
			}
		case <-timeout:
			t.Fatal("timed out waiting for view change")
			return Snapshot{}
		}
	}
}

func connIs(state ConnState) func(Snapshot) bool {
	return func(s Snapshot) bool { return s.Conn == state }
}
