package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// IntentStore implements domain.IntentStore using PostgreSQL.
type IntentStore struct {
	pool *pgxpool.Pool
}

// NewIntentStore creates a new IntentStore backed by the given connection pool.
func NewIntentStore(pool *pgxpool.Pool) *IntentStore {
	return &IntentStore{pool: pool}
}

// CreateIntent writes a new intent. Reusing an ID is an error.
func (s *IntentStore) CreateIntent(ctx context.Context, in domain.OrderIntent) error {
	const query = `
		INSERT INTO order_intents (id, strategy, instrument, side, notional, quantity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		in.ID, string(in.Pair.Strategy), string(in.Pair.Instrument), string(in.Side),
		in.Notional, in.Quantity, string(in.Status), in.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: create intent %s: %w", in.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create intent %s: %w", in.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// UpdateIntent moves an intent to status, keeping the exchange order ID and
// any error text.
func (s *IntentStore) UpdateIntent(ctx context.Context, id string, status domain.IntentStatus, orderID, errMsg string) error {
	const query = `
		UPDATE order_intents
		SET status = $2,
		    order_id = CASE WHEN $3::text = '' THEN order_id ELSE $3::text END,
		    error = $4,
		    updated_at = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status), orderID, errMsg)
	if err != nil {
		return fmt.Errorf("postgres: update intent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update intent %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListUnresolved returns intents still pending or placed, oldest first.
func (s *IntentStore) ListUnresolved(ctx context.Context) ([]domain.OrderIntent, error) {
	const query = `
		SELECT id, strategy, instrument, side, notional, quantity, status, order_id, error, created_at, updated_at
		FROM order_intents
		WHERE status IN ('pending', 'placed')
		ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unresolved intents: %w", err)
	}
	defer rows.Close()

	var intents []domain.OrderIntent
	for rows.Next() {
		var (
			in                               domain.OrderIntent
			strategy, instrument, side, stat string
		)
		if err := rows.Scan(&in.ID, &strategy, &instrument, &side, &in.Notional, &in.Quantity,
			&stat, &in.OrderID, &in.Error, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan intent: %w", err)
		}
		in.Pair = domain.Pair{Strategy: domain.StrategyID(strategy), Instrument: domain.InstrumentID(instrument)}
		in.Side = domain.Side(side)
		in.Status = domain.IntentStatus(stat)
		intents = append(intents, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unresolved intents rows: %w", err)
	}
	return intents, nil
}
