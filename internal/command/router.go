// Package command answers the operator's read-only chat commands.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
	"github.com/alanyoungcy/autobot/internal/service"
)

// Reports is the query surface the router reads. service.ReportService
// implements it.
type Reports interface {
	Positions(ctx context.Context) []service.PositionView
	PnL(ctx context.Context) ([]service.StrategyPnL, error)
	Ranking(ctx context.Context) ([]service.StrategyPnL, error)
	NextBuys(ctx context.Context) ([]service.NextBuy, error)
	Cash(ctx context.Context) (decimal.Decimal, error)
	Budgets(ctx context.Context) ([]service.BudgetLine, decimal.Decimal, error)
}

var _ Reports = (*service.ReportService)(nil)

type handlerFunc func(ctx context.Context, args []string) (string, error)

// Router maps "/name args..." to a handler. Aliases share one handler.
type Router struct {
	reports  Reports
	handlers map[string]handlerFunc
	help     []string
	logger   *slog.Logger
}

// NewRouter builds the router with every builtin command.
func NewRouter(reports Reports, logger *slog.Logger) *Router {
	r := &Router{
		reports:  reports,
		handlers: make(map[string]handlerFunc),
		logger:   logger.With(slog.String("component", "command_router")),
	}
	r.add("open positions valued at the current price", r.positions, "positions", "pos")
	r.add("realized P&L per strategy", r.pnl, "pnl")
	r.add("strategies ranked by realized P&L", r.ranking, "ranking", "rank")
	r.add("time until each pair may buy again", r.nextBuy, "nextbuy", "next")
	r.add("quote-currency balance", r.cash, "cash")
	r.add("effective budget per strategy", r.budget, "budget")
	r.add("this list", r.helpText, "help", "start")
	return r
}

func (r *Router) add(desc string, h handlerFunc, names ...string) {
	for _, n := range names {
		r.handlers[n] = h
	}
	r.help = append(r.help, fmt.Sprintf("/%s - %s", names[0], desc))
}

// Commands lists the primary command names.
func (r *Router) Commands() []string {
	out := make([]string, 0, len(r.help))
	for _, h := range r.help {
		name, _, _ := strings.Cut(h, " ")
		out = append(out, name)
	}
	return out
}

// Handle runs the command in text and returns the reply. Unknown commands get
// the help text.
func (r *Router) Handle(ctx context.Context, text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	// Group chats address bots as /cmd@botname.
	name, _, _ := strings.Cut(strings.ToLower(strings.TrimPrefix(fields[0], "/")), "@")

	h, ok := r.handlers[name]
	if !ok {
		reply, _ := r.helpText(ctx, nil)
		return "Unknown command /" + name + "\n\n" + reply
	}

	reply, err := h(ctx, fields[1:])
	if err != nil {
		r.logger.WarnContext(ctx, "command failed",
			slog.String("command", name),
			slog.String("error", err.Error()),
		)
		return fmt.Sprintf("/%s failed: %v", name, err)
	}
	return reply
}

func (r *Router) helpText(context.Context, []string) (string, error) {
	return "Commands:\n" + strings.Join(r.help, "\n"), nil
}

func (r *Router) positions(ctx context.Context, _ []string) (string, error) {
	views := r.reports.Positions(ctx)
	if len(views) == 0 {
		return "No open positions.", nil
	}
	var b strings.Builder
	b.WriteString("Open positions\n")
	for _, v := range views {
		fmt.Fprintf(&b, "- %s | entry %s | qty %s", v.Pair, money(v.EntryPrice), v.Quantity.StringFixed(8))
		if !v.Price.IsZero() {
			fmt.Fprintf(&b, " | now %s (%s)", money(v.Price), percent(v.PnL))
			if v.Risk != "" && v.Risk != domain.RiskNeutral {
				fmt.Fprintf(&b, " [%s]", v.Risk)
			}
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) pnl(ctx context.Context, _ []string) (string, error) {
	rows, err := r.reports.PnL(ctx)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "No trades recorded.", nil
	}
	var b strings.Builder
	b.WriteString("Realized P&L by strategy\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "- %s: %s (bought %s / sold %s, %d trades)\n",
			row.Strategy, money(row.Realized), money(row.Bought), money(row.Sold), row.Trades)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) ranking(ctx context.Context, _ []string) (string, error) {
	rows, err := r.reports.Ranking(ctx)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "No trades recorded.", nil
	}
	var b strings.Builder
	b.WriteString("Strategy ranking\n")
	for i, row := range rows {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, row.Strategy, money(row.Realized))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) nextBuy(ctx context.Context, _ []string) (string, error) {
	rows, err := r.reports.NextBuys(ctx)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "No pairs scheduled.", nil
	}
	var b strings.Builder
	b.WriteString("Next buy\n")
	for _, row := range rows {
		if row.Remaining <= 0 {
			fmt.Fprintf(&b, "- %s: now\n", row.Pair)
			continue
		}
		fmt.Fprintf(&b, "- %s: in %s\n", row.Pair, row.Remaining.Round(time.Second))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) cash(ctx context.Context, _ []string) (string, error) {
	cash, err := r.reports.Cash(ctx)
	if err != nil {
		return "", err
	}
	return "Cash: " + money(cash), nil
}

func (r *Router) budget(ctx context.Context, _ []string) (string, error) {
	lines, cash, err := r.reports.Budgets(ctx)
	var b strings.Builder
	b.WriteString("Budgets\n")
	if err != nil {
		fmt.Fprintf(&b, "(cash unavailable, showing base budgets: %v)\n", err)
	} else {
		fmt.Fprintf(&b, "cash %s\n", money(cash))
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Strategy < lines[j].Strategy })
	for _, l := range lines {
		fmt.Fprintf(&b, "- %s: %s (base %s)\n", l.Strategy, money(l.Effective), money(l.Base))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// money renders a whole-unit amount with thousands separators.
func money(d decimal.Decimal) string {
	s := d.Round(0).String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

func percent(frac decimal.Decimal) string {
	return frac.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}
