package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/service"
)

// Reports is the operator query surface. service.ReportService implements it.
type Reports interface {
	PositionReader
	PnL(ctx context.Context) ([]service.StrategyPnL, error)
	Ranking(ctx context.Context) ([]service.StrategyPnL, error)
	NextBuys(ctx context.Context) ([]service.NextBuy, error)
	Cash(ctx context.Context) (decimal.Decimal, error)
	Budgets(ctx context.Context) ([]service.BudgetLine, decimal.Decimal, error)
}

var _ Reports = (*service.ReportService)(nil)

// ReportHandler serves the same reports the chat commands answer.
type ReportHandler struct {
	reports Reports
	logger  *slog.Logger
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(reports Reports, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logHandler(logger, "report")}
}

// GetReport dispatches on the report name.
// GET /api/report/{name}
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctx := r.Context()

	var (
		body any
		err  error
	)
	switch name {
	case "positions":
		body = listPositionsResponse{Positions: h.reports.Positions(ctx)}
	case "pnl":
		var rows []service.StrategyPnL
		rows, err = h.reports.PnL(ctx)
		body = map[string]any{"strategies": rows}
	case "ranking":
		var rows []service.StrategyPnL
		rows, err = h.reports.Ranking(ctx)
		body = map[string]any{"ranking": rows}
	case "nextbuy":
		var rows []service.NextBuy
		rows, err = h.reports.NextBuys(ctx)
		body = map[string]any{"pairs": rows}
	case "cash":
		var cash decimal.Decimal
		cash, err = h.reports.Cash(ctx)
		body = map[string]any{"cash": cash}
	case "budget":
		var (
			lines []service.BudgetLine
			cash  decimal.Decimal
		)
		lines, cash, err = h.reports.Budgets(ctx)
		body = map[string]any{"budgets": lines, "cash": cash}
	default:
		writeError(w, http.StatusNotFound, "unknown report "+name)
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "report failed",
			slog.String("report", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "report "+name+" unavailable")
		return
	}
	writeJSON(w, http.StatusOK, body)
}
