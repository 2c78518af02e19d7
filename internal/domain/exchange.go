package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarketData is the read-only market data source.
type MarketData interface {
	PriceWindow(ctx context.Context, instrument InstrumentID, interval Interval, count int) (PriceWindow, error)
	CurrentPrice(ctx context.Context, instrument InstrumentID) (decimal.Decimal, error)
}

// OrderRequest is a market order. Buys set Notional, sells set Quantity.
type OrderRequest struct {
	Instrument     InstrumentID
	Notional       decimal.Decimal
	Quantity       decimal.Decimal
	IdempotencyKey string
}

// Fill reports the result of a market order.
type Fill struct {
	OrderID  string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	// Estimated is set when the venue had not reported the executed volume
	// and Quantity was derived from notional / price.
	Estimated bool
}

// OrderGateway places market orders and reports balances.
type OrderGateway interface {
	MarketBuy(ctx context.Context, req OrderRequest) (Fill, error)
	MarketSell(ctx context.Context, req OrderRequest) (Fill, error)
	// Balance returns the free holding of instrument's base asset, or the
	// quote-currency balance for CashAsset.
	Balance(ctx context.Context, asset InstrumentID) (decimal.Decimal, error)
}
