package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"confianza/internal/domain"
	"confianza/internal/storage"
)

// OfferStore implements storage.OfferStore using PostgreSQL.
type OfferStore struct {
	pool *Pool
}

// NewOfferStore creates a new OfferStore.
func NewOfferStore(pool *Pool) *OfferStore {
	return &OfferStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OfferStore = (*OfferStore)(nil)

const offerColumns = `
	id, user_id, status, crypto_asset, fiat_currency,
	price_per_crypto::text, min_trade_limit::text, max_trade_limit::text, available_amount::text,
	payment_method_details, created_at, updated_at`

// Insert adds a new offer. Returns ErrDuplicateKey if id exists.
func (s *OfferStore) Insert(ctx context.Context, o *domain.Offer) (err error) {
	if o == nil {
		return storage.ErrInvalidInput
	}
	if err := o.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	var details []byte
	if o.PaymentMethod != nil {
		if details, err = json.Marshal(o.PaymentMethod); err != nil {
			return fmt.Errorf("marshal payment method: %w", err)
		}
	}

	start := time.Now()
	defer func() { observe("offers_insert", start, err) }()

	query := `
		INSERT INTO offers (
			id, user_id, status, crypto_asset, fiat_currency,
			price_per_crypto, min_trade_limit, max_trade_limit, available_amount,
			payment_method_details, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::numeric, $7::numeric, $8::numeric, $9::numeric,
			$10, $11, $12
		)
	`

	_, err = s.pool.Exec(ctx, query,
		o.ID, o.UserID, string(o.Status), o.CryptoAsset, o.FiatCurrency,
		o.PricePerCrypto.String(), o.MinTradeLimit.String(), o.MaxTradeLimit.String(), o.AvailableAmount.String(),
		details, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isConstraintError(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

// GetByID retrieves an offer by its ID. Returns ErrNotFound if not exists.
func (s *OfferStore) GetByID(ctx context.Context, offerID string) (_ *domain.Offer, err error) {
	start := time.Now()
	defer func() { observe("offers_get", start, err) }()

	query := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`

	o, err := scanOffer(s.pool.QueryRow(ctx, query, offerID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get offer by id: %w", err)
	}
	return o, nil
}

// ListActive retrieves active offers, newest first.
func (s *OfferStore) ListActive(ctx context.Context) (_ []*domain.Offer, err error) {
	start := time.Now()
	defer func() { observe("offers_list_active", start, err) }()

	query := `
		SELECT ` + offerColumns + `
		FROM offers
		WHERE status = 'active'
		ORDER BY created_at DESC, id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active offers: %w", err)
	}
	defer rows.Close()

	var offers []*domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer row: %w", err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offer rows: %w", err)
	}
	return offers, nil
}

// scanOffer scans a single row into an Offer.
func scanOffer(row pgx.Row) (*domain.Offer, error) {
	var (
		o                         domain.Offer
		status                    string
		price, minLimit, maxLimit string
		available                 string
		details                   []byte
		createdAt, updatedAt      time.Time
	)

	err := row.Scan(
		&o.ID, &o.UserID, &status, &o.CryptoAsset, &o.FiatCurrency,
		&price, &minLimit, &maxLimit, &available,
		&details, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = domain.OfferStatus(status)
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&o.PricePerCrypto, price},
		{&o.MinTradeLimit, minLimit},
		{&o.MaxTradeLimit, maxLimit},
		{&o.AvailableAmount, available},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("parse offer amount %q: %w", f.src, err)
		}
	}
	if len(details) > 0 {
		var pm domain.PaymentMethod
		if err := json.Unmarshal(details, &pm); err != nil {
			return nil, fmt.Errorf("unmarshal payment method: %w", err)
		}
		o.PaymentMethod = &pm
	}
	o.CreatedAt = createdAt.UTC()
	o.UpdatedAt = updatedAt.UTC()

	return &o, nil
}
