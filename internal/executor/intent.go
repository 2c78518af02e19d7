package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// Reconcile looks for order intents a previous run left pending or placed.
// Such an intent means the process stopped between sending an order and
// writing its trade row, so the exchange may hold a fill the ledger does not
// know about. Each one is reported to the operator and marked failed; it is
// not replayed. Reconcile returns the number of intents found.
func (c *Coordinator) Reconcile(ctx context.Context) (int, error) {
	open, err := c.deps.Ledger.ListUnresolved(ctx)
	if err != nil {
		return 0, fmt.Errorf("executor: reconcile: %w", err)
	}
	if len(open) == 0 {
		return 0, nil
	}

	var b strings.Builder
	for _, in := range open {
		c.logger.WarnContext(ctx, "unresolved order intent",
			slog.String("intent", in.ID),
			slog.String("pair", in.Pair.String()),
			slog.String("side", string(in.Side)),
			slog.String("status", string(in.Status)),
			slog.String("order_id", in.OrderID),
			slog.Time("created_at", in.CreatedAt),
		)
		fmt.Fprintf(&b, "%s %s %s (%s) order=%s at %s\n",
			in.Status, in.Side, in.Pair, in.ID, in.OrderID, in.CreatedAt.Format("2006-01-02 15:04:05"))
		c.closeIntent(ctx, in.ID, domain.IntentFailed, in.OrderID, "unresolved at startup; verify on the exchange")
	}

	c.notify(ctx, EventReconcile,
		fmt.Sprintf("%d unresolved order(s) from a previous run", len(open)),
		b.String()+"Check the exchange order history; the trade ledger may be missing these fills.")
	return len(open), nil
}
