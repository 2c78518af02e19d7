package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// CreateIntent writes a new intent. Reusing an ID is an error.
func (d *DB) CreateIntent(ctx context.Context, in domain.OrderIntent) error {
	created := formatTS(in.CreatedAt)
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO order_intents (id, strategy, instrument, side, notional, quantity, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, string(in.Pair.Strategy), string(in.Pair.Instrument), string(in.Side),
		in.Notional.String(), in.Quantity.String(), string(in.Status), created, created,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("sqlite: create intent %s: %w", in.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("sqlite: create intent %s: %w", in.ID, err)
	}
	return nil
}

// UpdateIntent moves an intent to status. An empty orderID keeps the stored one.
func (d *DB) UpdateIntent(ctx context.Context, id string, status domain.IntentStatus, orderID, errMsg string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE order_intents
		SET status = ?,
		    order_id = CASE WHEN ? = '' THEN order_id ELSE ? END,
		    error = ?,
		    updated_at = ?
		WHERE id = ?`,
		string(status), orderID, orderID, errMsg, formatTS(d.now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: update intent %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update intent %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: update intent %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListUnresolved returns intents still pending or placed, oldest first.
func (d *DB) ListUnresolved(ctx context.Context) ([]domain.OrderIntent, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, strategy, instrument, side, notional, quantity, status, order_id, error, created_at, updated_at
		FROM order_intents
		WHERE status IN (?, ?)
		ORDER BY created_at ASC, id ASC`,
		string(domain.IntentPending), string(domain.IntentPlaced))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list unresolved intents: %w", err)
	}
	defer rows.Close()

	var intents []domain.OrderIntent
	for rows.Next() {
		var (
			in                                        domain.OrderIntent
			strat, instrument, side, status, cAt, uAt string
		)
		if err := rows.Scan(&in.ID, &strat, &instrument, &side, &in.Notional, &in.Quantity,
			&status, &in.OrderID, &in.Error, &cAt, &uAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan intent: %w", err)
		}
		if in.CreatedAt, err = parseTS(cAt); err != nil {
			return nil, err
		}
		if in.UpdatedAt, err = parseTS(uAt); err != nil {
			return nil, err
		}
		in.Pair = domain.Pair{Strategy: domain.StrategyID(strat), Instrument: domain.InstrumentID(instrument)}
		in.Side = domain.Side(side)
		in.Status = domain.IntentStatus(status)
		intents = append(intents, in)
	}
	return intents, rows.Err()
}
