package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/autobot/internal/domain"
)

const tradeSelectCols = `id, ts, instrument, side, quantity, price, strategy`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (domain.TradeRecord, error) {
	var (
		t                           domain.TradeRecord
		ts, instrument, side, strat string
	)
	if err := row.Scan(&t.ID, &ts, &instrument, &side, &t.Quantity, &t.Price, &strat); err != nil {
		return domain.TradeRecord{}, err
	}
	parsed, err := parseTS(ts)
	if err != nil {
		return domain.TradeRecord{}, err
	}
	t.Timestamp = parsed
	t.Instrument = domain.InstrumentID(instrument)
	t.Side = domain.Side(side)
	t.Strategy = domain.StrategyID(strat)
	return t, nil
}

func scanTradeRows(rows *sql.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Append inserts a trade and returns it with the assigned ID.
func (d *DB) Append(ctx context.Context, t domain.TradeRecord) (domain.TradeRecord, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO trades (ts, instrument, side, quantity, price, strategy) VALUES (?, ?, ?, ?, ?, ?)`,
		formatTS(t.Timestamp), string(t.Instrument), string(t.Side),
		t.Quantity.String(), t.Price.String(), string(t.Strategy),
	)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("sqlite: append trade %s/%s: %w", t.Strategy, t.Instrument, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("sqlite: append trade id: %w", err)
	}
	t.ID = id
	return t, nil
}

// Last returns the newest trade of the pair, or domain.ErrNotFound.
func (d *DB) Last(ctx context.Context, strategy domain.StrategyID, instrument domain.InstrumentID) (domain.TradeRecord, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE strategy = ? AND instrument = ? ORDER BY ts DESC, id DESC LIMIT 1`,
		string(strategy), string(instrument))
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TradeRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("sqlite: last trade %s/%s: %w", strategy, instrument, err)
	}
	return t, nil
}

// LastPerPair returns the newest trade of every (strategy, instrument) pair.
func (d *DB) LastPerPair(ctx context.Context) ([]domain.TradeRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+tradeSelectCols+` FROM (
			SELECT `+tradeSelectCols+`,
			       ROW_NUMBER() OVER (PARTITION BY strategy, instrument ORDER BY ts DESC, id DESC) AS rn
			FROM trades
		) WHERE rn = 1
		ORDER BY strategy, instrument`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: last trade per pair: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan last trade per pair: %w", err)
	}
	return trades, nil
}

// List returns trades matching f, newest first. A zero Limit returns every
// matching row.
func (d *DB) List(ctx context.Context, f domain.TradeFilter) ([]domain.TradeRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Strategy != "" {
		where = append(where, "strategy = ?")
		args = append(args, string(f.Strategy))
	}
	if f.Instrument != "" {
		where = append(where, "instrument = ?")
		args = append(args, string(f.Instrument))
	}
	if f.Since != nil {
		where = append(where, "ts >= ?")
		args = append(args, formatTS(*f.Since))
	}
	if f.Until != nil {
		where = append(where, "ts <= ?")
		args = append(args, formatTS(*f.Until))
	}

	query := `SELECT ` + tradeSelectCols + ` FROM trades`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	switch {
	case f.Limit > 0:
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	case f.Offset > 0:
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns trades strictly older than before, oldest first.
func (d *DB) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE ts < ? ORDER BY ts ASC, id ASC`, formatTS(before))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// AppendReason records why a trade was made.
func (d *DB) AppendReason(ctx context.Context, r domain.ReasonRecord) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO reasons (ts, instrument, side, strategy, reason) VALUES (?, ?, ?, ?, ?)`,
		formatTS(r.Timestamp), string(r.Instrument), string(r.Side), string(r.Strategy), r.Reason)
	if err != nil {
		return fmt.Errorf("sqlite: append reason %s/%s: %w", r.Strategy, r.Instrument, err)
	}
	return nil
}

// AppendSignal records an acted-upon signal and the price it was seen at.
func (d *DB) AppendSignal(ctx context.Context, s domain.SignalRecord) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO signals (ts, instrument, strategy, action, price) VALUES (?, ?, ?, ?, ?)`,
		formatTS(s.Timestamp), string(s.Instrument), string(s.Strategy), string(s.Action), s.Price.String())
	if err != nil {
		return fmt.Errorf("sqlite: append signal %s/%s: %w", s.Strategy, s.Instrument, err)
	}
	return nil
}

// Reasons returns the reason log of a pair, newest first.
func (d *DB) Reasons(ctx context.Context, pair domain.Pair, limit int) ([]domain.ReasonRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT ts, instrument, side, strategy, reason FROM reasons
		 WHERE strategy = ? AND instrument = ? ORDER BY ts DESC, id DESC LIMIT ?`,
		string(pair.Strategy), string(pair.Instrument), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list reasons %s: %w", pair, err)
	}
	defer rows.Close()

	var out []domain.ReasonRecord
	for rows.Next() {
		var (
			r                           domain.ReasonRecord
			ts, instrument, side, strat string
		)
		if err := rows.Scan(&ts, &instrument, &side, &strat, &r.Reason); err != nil {
			return nil, fmt.Errorf("sqlite: scan reason: %w", err)
		}
		if r.Timestamp, err = parseTS(ts); err != nil {
			return nil, err
		}
		r.Instrument = domain.InstrumentID(instrument)
		r.Side = domain.Side(side)
		r.Strategy = domain.StrategyID(strat)
		out = append(out, r)
	}
	return out, rows.Err()
}
