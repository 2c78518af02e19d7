package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
	"github.com/alanyoungcy/autobot/internal/service"
)

// PositionReader values the open positions.
type PositionReader interface {
	Positions(ctx context.Context) []service.PositionView
}

// PositionHandler serves the position book and the trade ledger.
type PositionHandler struct {
	positions PositionReader
	trades    domain.TradeStore
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given readers.
func NewPositionHandler(positions PositionReader, trades domain.TradeStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		trades:    trades,
		logger:    logHandler(logger, "position"),
	}
}

type listPositionsResponse struct {
	Positions []service.PositionView `json:"positions"`
}

// ListPositions returns every open position valued at the current price.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.positions.Positions(r.Context())
	if positions == nil {
		positions = []service.PositionView{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

type tradeView struct {
	ID         int64               `json:"id"`
	Timestamp  time.Time           `json:"timestamp"`
	Strategy   domain.StrategyID   `json:"strategy"`
	Instrument domain.InstrumentID `json:"instrument"`
	Side       domain.Side         `json:"side"`
	Quantity   decimal.Decimal     `json:"quantity"`
	Price      decimal.Decimal     `json:"price"`
	Notional   decimal.Decimal     `json:"notional"`
}

type listTradesResponse struct {
	Trades []tradeView `json:"trades"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// ListTrades pages through the ledger, newest first.
// GET /api/trades?strategy=rsi&instrument=KRW-BTC&limit=50&offset=0&since=...
func (h *PositionHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	filter := domain.TradeFilter{
		Strategy:   domain.StrategyID(q.Get("strategy")),
		Instrument: domain.InstrumentID(q.Get("instrument")),
		ListOpts:   opts,
	}

	records, err := h.trades.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed",
			slog.String("strategy", string(filter.Strategy)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	out := make([]tradeView, 0, len(records))
	for _, t := range records {
		out = append(out, tradeView{
			ID:         t.ID,
			Timestamp:  t.Timestamp,
			Strategy:   t.Strategy,
			Instrument: t.Instrument,
			Side:       t.Side,
			Quantity:   t.Quantity,
			Price:      t.Price,
			Notional:   t.Notional(),
		})
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: out, Limit: opts.Limit, Offset: opts.Offset})
}
