package upbit

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// candleTimeLayout is the layout of candle_date_time_utc and the "to"
// pagination parameter.
const candleTimeLayout = "2006-01-02T15:04:05"

// APICandle is one element of the /v1/candles/* responses.
type APICandle struct {
	Market     string          `json:"market"`
	TimeUTC    string          `json:"candle_date_time_utc"`
	Open       decimal.Decimal `json:"opening_price"`
	High       decimal.Decimal `json:"high_price"`
	Low        decimal.Decimal `json:"low_price"`
	Close      decimal.Decimal `json:"trade_price"`
	Volume     decimal.Decimal `json:"candle_acc_trade_volume"`
	TimestampM int64           `json:"timestamp"`
}

// ToDomainBar converts an API candle to a domain.Bar.
func (c APICandle) ToDomainBar() domain.Bar {
	t, err := time.ParseInLocation(candleTimeLayout, c.TimeUTC, time.UTC)
	if err != nil {
		t = time.UnixMilli(c.TimestampM).UTC()
	}
	return domain.Bar{
		Time:   t,
		Open:   c.Open.InexactFloat64(),
		High:   c.High.InexactFloat64(),
		Low:    c.Low.InexactFloat64(),
		Close:  c.Close.InexactFloat64(),
		Volume: c.Volume.InexactFloat64(),
	}
}

// APITicker is one element of the /v1/ticker response.
type APITicker struct {
	Market     string          `json:"market"`
	TradePrice decimal.Decimal `json:"trade_price"`
	TimestampM int64           `json:"timestamp"`
}

// APIAccount is one element of the /v1/accounts response.
type APIAccount struct {
	Currency     string          `json:"currency"`
	Balance      decimal.Decimal `json:"balance"`
	Locked       decimal.Decimal `json:"locked"`
	AvgBuyPrice  decimal.Decimal `json:"avg_buy_price"`
	UnitCurrency string          `json:"unit_currency"`
}

// APITrade is a partial execution listed on an order.
type APITrade struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Funds  decimal.Decimal `json:"funds"`
}

// APIOrder is the order object returned by POST /v1/orders and GET /v1/order.
type APIOrder struct {
	UUID           string          `json:"uuid"`
	Side           string          `json:"side"`
	OrdType        string          `json:"ord_type"`
	State          string          `json:"state"`
	Market         string          `json:"market"`
	Price          decimal.Decimal `json:"price"`
	Volume         decimal.Decimal `json:"volume"`
	ExecutedVolume decimal.Decimal `json:"executed_volume"`
	Identifier     string          `json:"identifier"`
	Trades         []APITrade      `json:"trades"`
}

// AvgPrice returns the volume-weighted execution price, or zero when no
// trades are listed.
func (o APIOrder) AvgPrice() decimal.Decimal {
	var funds, vol decimal.Decimal
	for _, t := range o.Trades {
		f := t.Funds
		if f.IsZero() {
			f = t.Price.Mul(t.Volume)
		}
		funds = funds.Add(f)
		vol = vol.Add(t.Volume)
	}
	if vol.IsZero() {
		return decimal.Zero
	}
	return funds.Div(vol)
}

// Settled reports whether the venue will not fill the order any further.
func (o APIOrder) Settled() bool {
	return o.State == "done" || o.State == "cancel"
}

// APIError is the error envelope of failed requests.
type APIError struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// TickerMessage is a "ticker" frame on the public websocket.
type TickerMessage struct {
	Type       string  `json:"type"`
	Code       string  `json:"code"`
	TradePrice float64 `json:"trade_price"`
	TimestampM int64   `json:"timestamp"`
}

// ToDomainTick converts a ticker frame.
func (m TickerMessage) ToDomainTick() domain.Tick {
	return domain.Tick{
		Instrument: domain.InstrumentID(m.Code),
		Price:      m.TradePrice,
		Time:       time.UnixMilli(m.TimestampM).UTC(),
	}
}
