// Package paper simulates order execution against live or replayed prices.
package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// PriceSource supplies fill prices.
type PriceSource interface {
	CurrentPrice(ctx context.Context, instrument domain.InstrumentID) (decimal.Decimal, error)
}

// Gateway fills every market order in full at the current price, less a
// proportional fee. It implements domain.OrderGateway.
type Gateway struct {
	prices PriceSource
	fee    decimal.Decimal

	mu       sync.Mutex
	cash     decimal.Decimal
	holdings map[domain.InstrumentID]decimal.Decimal
}

var _ domain.OrderGateway = (*Gateway)(nil)

// NewGateway creates a Gateway holding cash. fee is a fraction, e.g. 0.0005.
func NewGateway(prices PriceSource, cash, fee decimal.Decimal) *Gateway {
	return &Gateway{
		prices:   prices,
		fee:      fee,
		cash:     cash,
		holdings: make(map[domain.InstrumentID]decimal.Decimal),
	}
}

func (g *Gateway) MarketBuy(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	if !req.Notional.IsPositive() {
		return domain.Fill{}, fmt.Errorf("paper: market buy: %w", domain.ErrInvalidOrder)
	}
	price, err := g.price(ctx, req.Instrument)
	if err != nil {
		return domain.Fill{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if req.Notional.GreaterThan(g.cash) {
		return domain.Fill{}, fmt.Errorf("paper: market buy %s for %s with %s cash: %w",
			req.Instrument, req.Notional, g.cash, domain.ErrInsufficientFunds)
	}
	qty := req.Notional.Mul(decimal.NewFromInt(1).Sub(g.fee)).Div(price)
	g.cash = g.cash.Sub(req.Notional)
	g.holdings[req.Instrument] = g.holdings[req.Instrument].Add(qty)
	return domain.Fill{OrderID: orderID(req), Quantity: qty, Price: price}, nil
}

func (g *Gateway) MarketSell(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	if !req.Quantity.IsPositive() {
		return domain.Fill{}, fmt.Errorf("paper: market sell: %w", domain.ErrInvalidOrder)
	}
	price, err := g.price(ctx, req.Instrument)
	if err != nil {
		return domain.Fill{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	held := g.holdings[req.Instrument]
	if req.Quantity.GreaterThan(held) {
		return domain.Fill{}, fmt.Errorf("paper: market sell %s %s holding %s: %w",
			req.Quantity, req.Instrument, held, domain.ErrInsufficientFunds)
	}
	proceeds := req.Quantity.Mul(price).Mul(decimal.NewFromInt(1).Sub(g.fee))
	g.cash = g.cash.Add(proceeds)
	if rest := held.Sub(req.Quantity); rest.IsZero() {
		delete(g.holdings, req.Instrument)
	} else {
		g.holdings[req.Instrument] = rest
	}
	return domain.Fill{OrderID: orderID(req), Quantity: req.Quantity, Price: price}, nil
}

func (g *Gateway) Balance(_ context.Context, asset domain.InstrumentID) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if asset == domain.CashAsset {
		return g.cash, nil
	}
	return g.holdings[asset], nil
}

// Equity values cash plus holdings at the current prices.
func (g *Gateway) Equity(ctx context.Context) (decimal.Decimal, error) {
	g.mu.Lock()
	total := g.cash
	held := make(map[domain.InstrumentID]decimal.Decimal, len(g.holdings))
	for k, v := range g.holdings {
		held[k] = v
	}
	g.mu.Unlock()

	for inst, qty := range held {
		price, err := g.price(ctx, inst)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(qty.Mul(price))
	}
	return total, nil
}

func (g *Gateway) price(ctx context.Context, inst domain.InstrumentID) (decimal.Decimal, error) {
	price, err := g.prices.CurrentPrice(ctx, inst)
	if err != nil {
		return decimal.Zero, fmt.Errorf("paper: price %s: %w", inst, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("paper: price %s is %s: %w", inst, price, domain.ErrUnavailable)
	}
	return price, nil
}

func orderID(req domain.OrderRequest) string {
	if req.IdempotencyKey != "" {
		return "paper-" + req.IdempotencyKey
	}
	return "paper-" + uuid.NewString()
}
