package clickhouse

import (
	"context"
	"fmt"
	"time"

	"confianza/internal/domain"
	"confianza/internal/observability"
	"confianza/internal/storage"
)

// TransitionEventStore implements storage.TransitionEventStore using
// ClickHouse. The table is append-only.
type TransitionEventStore struct {
	conn *Conn
}

// NewTransitionEventStore creates a new TransitionEventStore.
func NewTransitionEventStore(conn *Conn) *TransitionEventStore {
	return &TransitionEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TransitionEventStore = (*TransitionEventStore)(nil)

// Insert appends an event. Returns ErrDuplicateKey if event_id exists.
func (s *TransitionEventStore) Insert(ctx context.Context, e *domain.TransitionEvent) (err error) {
	if e == nil || e.EventID == "" || e.TradeID == "" {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "transition_events_insert", time.Since(start).Seconds(), err)
	}()

	// MergeTree does not enforce uniqueness
	exists, err := s.exists(ctx, e.TradeID, e.EventID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO transition_events (
			event_id, trade_id, requester_id, claimed_role, role,
			from_status, to_status, outcome, reason, occurred_at
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?
		)
	`

	err = s.conn.Exec(ctx, query,
		e.EventID, e.TradeID, e.RequesterID, e.ClaimedRole, string(e.Role),
		string(e.FromStatus), string(e.ToStatus), string(e.Outcome), e.Reason, e.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert transition event: %w", err)
	}
	return nil
}

// GetByTradeID retrieves all events for a trade, ordered by occurred_at ASC.
func (s *TransitionEventStore) GetByTradeID(ctx context.Context, tradeID string) (_ []*domain.TransitionEvent, err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "transition_events_by_trade", time.Since(start).Seconds(), err)
	}()

	query := `
		SELECT
			event_id, trade_id, requester_id, claimed_role, role,
			from_status, to_status, outcome, reason, occurred_at
		FROM transition_events
		WHERE trade_id = ?
		ORDER BY occurred_at ASC, event_id ASC
	`

	rows, err := s.conn.Query(ctx, query, tradeID)
	if err != nil {
		return nil, fmt.Errorf("query transition events: %w", err)
	}
	defer rows.Close()

	var events []*domain.TransitionEvent
	for rows.Next() {
		var (
			e                       domain.TransitionEvent
			role, from, to, outcome string
		)
		if err := rows.Scan(
			&e.EventID, &e.TradeID, &e.RequesterID, &e.ClaimedRole, &role,
			&from, &to, &outcome, &e.Reason, &e.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan transition event: %w", err)
		}
		e.Role = domain.Role(role)
		e.FromStatus = domain.TradeStatus(from)
		e.ToStatus = domain.TradeStatus(to)
		e.Outcome = domain.TransitionOutcome(outcome)
		e.OccurredAt = e.OccurredAt.UTC()
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transition events: %w", err)
	}
	return events, nil
}

func (s *TransitionEventStore) exists(ctx context.Context, tradeID, eventID string) (bool, error) {
	query := `
		SELECT count(*) FROM transition_events
		WHERE trade_id = ? AND event_id = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, tradeID, eventID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
