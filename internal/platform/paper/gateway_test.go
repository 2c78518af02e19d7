package paper

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

type staticPrices map[domain.InstrumentID]decimal.Decimal

func (s staticPrices) CurrentPrice(_ context.Context, inst domain.InstrumentID) (decimal.Decimal, error) {
	p, ok := s[inst]
	if !ok {
		return decimal.Zero, domain.ErrNotFound
	}
	return p, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestGatewayRoundTrip(t *testing.T) {
	ctx := context.Background()
	prices := staticPrices{"KRW-BTC": d("50000000")}
	g := NewGateway(prices, d("100000"), decimal.Zero)

	fill, err := g.MarketBuy(ctx, domain.OrderRequest{Instrument: "KRW-BTC", Notional: d("10000"), IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("MarketBuy: %v", err)
	}
	if !fill.Quantity.Equal(d("0.0002")) || fill.OrderID != "paper-k1" {
		t.Fatalf("fill = %+v", fill)
	}
	if cash, _ := g.Balance(ctx, domain.CashAsset); !cash.Equal(d("90000")) {
		t.Fatalf("cash = %s, want 90000", cash)
	}

	prices["KRW-BTC"] = d("55000000")
	if eq, _ := g.Equity(ctx); !eq.Equal(d("101000")) {
		t.Fatalf("equity = %s, want 101000", eq)
	}

	held, _ := g.Balance(ctx, "KRW-BTC")
	if _, err := g.MarketSell(ctx, domain.OrderRequest{Instrument: "KRW-BTC", Quantity: held}); err != nil {
		t.Fatalf("MarketSell: %v", err)
	}
	if cash, _ := g.Balance(ctx, domain.CashAsset); !cash.Equal(d("101000")) {
		t.Fatalf("cash after sell = %s, want 101000", cash)
	}
	if held, _ := g.Balance(ctx, "KRW-BTC"); !held.IsZero() {
		t.Fatalf("holding after sell = %s, want 0", held)
	}
}

func TestGatewayFeeAndLimits(t *testing.T) {
	ctx := context.Background()
	g := NewGateway(staticPrices{"KRW-ETH": d("1000")}, d("5000"), d("0.01"))

	fill, err := g.MarketBuy(ctx, domain.OrderRequest{Instrument: "KRW-ETH", Notional: d("1000")})
	if err != nil {
		t.Fatalf("MarketBuy: %v", err)
	}
	if !fill.Quantity.Equal(d("0.99")) {
		t.Fatalf("quantity after fee = %s, want 0.99", fill.Quantity)
	}

	if _, err := g.MarketBuy(ctx, domain.OrderRequest{Instrument: "KRW-ETH", Notional: d("5000")}); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("overspend err = %v, want ErrInsufficientFunds", err)
	}
	if _, err := g.MarketSell(ctx, domain.OrderRequest{Instrument: "KRW-ETH", Quantity: d("2")}); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("oversell err = %v, want ErrInsufficientFunds", err)
	}
	if _, err := g.MarketBuy(ctx, domain.OrderRequest{Instrument: "KRW-XRP", Notional: d("100")}); err == nil {
		t.Fatal("expected error for instrument without a price")
	}
}
