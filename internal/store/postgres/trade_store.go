package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// TradeStore implements domain.TradeStore, domain.ReasonStore and
// domain.SignalStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, ts, instrument, side, quantity, price, strategy`

func scanTrade(row pgx.Row) (domain.TradeRecord, error) {
	var (
		t          domain.TradeRecord
		instrument string
		side       string
		strategy   string
	)
	if err := row.Scan(&t.ID, &t.Timestamp, &instrument, &side, &t.Quantity, &t.Price, &strategy); err != nil {
		return domain.TradeRecord{}, err
	}
	t.Instrument = domain.InstrumentID(instrument)
	t.Side = domain.Side(side)
	t.Strategy = domain.StrategyID(strategy)
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
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
func (s *TradeStore) Append(ctx context.Context, t domain.TradeRecord) (domain.TradeRecord, error) {
	const query = `
		INSERT INTO trades (ts, instrument, side, quantity, price, strategy)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err := s.pool.QueryRow(ctx, query,
		t.Timestamp.UTC(), string(t.Instrument), string(t.Side),
		t.Quantity, t.Price, string(t.Strategy),
	).Scan(&t.ID)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("postgres: append trade %s/%s: %w", t.Strategy, t.Instrument, err)
	}
	return t, nil
}

// Last returns the newest trade of the pair, or domain.ErrNotFound.
func (s *TradeStore) Last(ctx context.Context, strategy domain.StrategyID, instrument domain.InstrumentID) (domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE strategy = $1 AND instrument = $2
		ORDER BY ts DESC, id DESC LIMIT 1`
	t, err := scanTrade(s.pool.QueryRow(ctx, query, string(strategy), string(instrument)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TradeRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("postgres: last trade %s/%s: %w", strategy, instrument, err)
	}
	return t, nil
}

// LastPerPair returns the newest trade of every (strategy, instrument) pair.
func (s *TradeStore) LastPerPair(ctx context.Context) ([]domain.TradeRecord, error) {
	query := `SELECT DISTINCT ON (strategy, instrument) ` + tradeSelectCols + `
		FROM trades
		ORDER BY strategy, instrument, ts DESC, id DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: last trade per pair: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan last trade per pair: %w", err)
	}
	return trades, nil
}

// List returns trades matching f, newest first. A zero Limit returns every
// matching row.
func (s *TradeStore) List(ctx context.Context, f domain.TradeFilter) ([]domain.TradeRecord, error) {
	q := newQuery(`SELECT ` + tradeSelectCols + ` FROM trades`)
	if f.Strategy != "" {
		q.where("strategy = %s", string(f.Strategy))
	}
	if f.Instrument != "" {
		q.where("instrument = %s", string(f.Instrument))
	}
	if f.Since != nil {
		q.where("ts >= %s", *f.Since)
	}
	if f.Until != nil {
		q.where("ts <= %s", *f.Until)
	}
	q.sql += " ORDER BY ts DESC, id DESC"
	q.page(f.ListOpts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns all trades with timestamp strictly before the given time (for archiving).
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE ts < $1 ORDER BY ts ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// AppendReason records why a trade was made.
func (s *TradeStore) AppendReason(ctx context.Context, r domain.ReasonRecord) error {
	const query = `INSERT INTO reasons (ts, instrument, side, strategy, reason) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query,
		r.Timestamp.UTC(), string(r.Instrument), string(r.Side), string(r.Strategy), r.Reason)
	if err != nil {
		return fmt.Errorf("postgres: append reason %s/%s: %w", r.Strategy, r.Instrument, err)
	}
	return nil
}

// AppendSignal records an acted-upon signal and the price it was seen at.
func (s *TradeStore) AppendSignal(ctx context.Context, sig domain.SignalRecord) error {
	const query = `INSERT INTO signals (ts, instrument, strategy, action, price) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query,
		sig.Timestamp.UTC(), string(sig.Instrument), string(sig.Strategy), string(sig.Action), sig.Price)
	if err != nil {
		return fmt.Errorf("postgres: append signal %s/%s: %w", sig.Strategy, sig.Instrument, err)
	}
	return nil
}
