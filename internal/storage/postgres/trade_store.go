package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"confianza/internal/domain"
	"confianza/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Amounts travel as text so NUMERIC precision survives the round trip.
const tradeColumns = `
	id, offer_id, buyer_id, seller_id, status,
	crypto_amount::text, fiat_amount::text, fee_amount_usd::text,
	escrow_contract_address, created_at, updated_at, completed_at`

// Insert adds a new trade. Returns ErrDuplicateKey if id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) (err error) {
	if t == nil {
		return storage.ErrInvalidInput
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	start := time.Now()
	defer func() { observe("trades_insert", start, err) }()

	query := `
		INSERT INTO trades (
			id, offer_id, buyer_id, seller_id, status,
			crypto_amount, fiat_amount, fee_amount_usd,
			escrow_contract_address, created_at, updated_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::numeric, $7::numeric, $8::numeric,
			$9, $10, $11, $12
		)
	`

	_, err = s.pool.Exec(ctx, query,
		t.ID, t.OfferID, t.BuyerID, t.SellerID, string(t.Status),
		t.CryptoAmount.String(), t.FiatAmount.String(), t.FeeAmountUSD.String(),
		t.EscrowContractAddress, t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isConstraintError(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(ctx context.Context, tradeID string) (_ *domain.Trade, err error) {
	start := time.Now()
	defer func() { observe("trades_get", start, err) }()

	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1`

	t, err := scanTrade(s.pool.QueryRow(ctx, query, tradeID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by id: %w", err)
	}
	return t, nil
}

// GetByParticipant retrieves all trades where userID is buyer or seller,
// newest first.
func (s *TradeStore) GetByParticipant(ctx context.Context, userID string) (_ []*domain.Trade, err error) {
	start := time.Now()
	defer func() { observe("trades_by_participant", start, err) }()

	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get trades by participant: %w", err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return trades, nil
}

// UpdateStatus applies u if the stored status still equals u.Expected. The
// WHERE clause is the serialization point for concurrent requests.
func (s *TradeStore) UpdateStatus(ctx context.Context, tradeID string, u storage.StatusUpdate) (_ *domain.Trade, err error) {
	start := time.Now()
	defer func() { observe("trades_update_status", start, err) }()

	query := `
		UPDATE trades
		SET status = $3, updated_at = $4, completed_at = $5
		WHERE id = $1 AND status = $2
		RETURNING ` + tradeColumns

	t, err := scanTrade(s.pool.QueryRow(ctx, query,
		tradeID, string(u.Expected), string(u.Status), u.UpdatedAt, u.CompletedAt,
	))
	if err == nil {
		return t, nil
	}
	if !isNotFoundError(err) {
		if isConstraintError(err) {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("update trade status: %w", err)
	}

	// No row matched: either the trade is gone or its status moved on.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trades WHERE id = $1)`, tradeID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check trade exists: %w", err)
	}
	if !exists {
		return nil, storage.ErrNotFound
	}
	return nil, storage.ErrStaleStatus
}

// scanTrade scans a single row into a Trade.
func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var (
		t                  domain.Trade
		status             string
		crypto, fiat, fee  string
		createdAt, updated time.Time
		completedAt        *time.Time
	)

	err := row.Scan(
		&t.ID, &t.OfferID, &t.BuyerID, &t.SellerID, &status,
		&crypto, &fiat, &fee,
		&t.EscrowContractAddress, &createdAt, &updated, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = domain.TradeStatus(status)
	if t.CryptoAmount, err = decimal.NewFromString(crypto); err != nil {
		return nil, fmt.Errorf("parse crypto_amount: %w", err)
	}
	if t.FiatAmount, err = decimal.NewFromString(fiat); err != nil {
		return nil, fmt.Errorf("parse fiat_amount: %w", err)
	}
	if t.FeeAmountUSD, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse fee_amount_usd: %w", err)
	}
	t.CreatedAt = createdAt.UTC()
	t.UpdatedAt = updated.UTC()
	if completedAt != nil {
		at := completedAt.UTC()
		t.CompletedAt = &at
	}

	return &t, nil
}
