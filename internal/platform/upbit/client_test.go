package upbit

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

var testCreds = Credentials{AccessKey: "access", SecretKey: "secret"}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		BaseURL:           srv.URL,
		Credentials:       testCreds,
		RequestsPerSecond: 1000,
		Burst:             100,
		FillPolls:         2,
		FillPollInterval:  time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// parseToken verifies the bearer token of r and returns its claims. It runs
// on the server goroutine, so failures are reported with Errorf.
func parseToken(t *testing.T, r *http.Request) jwt.MapClaims {
	t.Helper()
	claims := jwt.MapClaims{}
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		t.Errorf("missing bearer token on %s", r.URL.Path)
		return claims
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(testCreds.SecretKey), nil
	})
	if err != nil {
		t.Errorf("token does not verify: %v", err)
	}
	if claims["access_key"] != testCreds.AccessKey || claims["nonce"] == "" {
		t.Errorf("claims = %v", claims)
	}
	return claims
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestPriceWindowPaginatesAndOrders(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	candle := func(i int) map[string]any {
		ts := t0.Add(time.Duration(i) * time.Minute)
		return map[string]any{
			"market":               "KRW-BTC",
			"candle_date_time_utc": ts.Format(candleTimeLayout),
			"opening_price":        float64(100 + i),
			"high_price":           float64(101 + i),
			"low_price":            float64(99 + i),
			"trade_price":          float64(100 + i),
			"timestamp":            ts.UnixMilli(),
		}
	}

	var calls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/v1/candles/minutes/15" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var page []map[string]any
		switch r.URL.Query().Get("to") {
		case "":
			if r.URL.Query().Get("count") != "200" {
				t.Errorf("first page count = %s", r.URL.Query().Get("count"))
			}
			for i := 249; i >= 50; i-- {
				page = append(page, candle(i))
			}
		case t0.Add(50 * time.Minute).Format(candleTimeLayout):
			if r.URL.Query().Get("count") != "50" {
				t.Errorf("second page count = %s", r.URL.Query().Get("count"))
			}
			for i := 49; i >= 0; i-- {
				page = append(page, candle(i))
			}
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("to"))
		}
		writeJSON(w, page)
	}))

	win, err := c.PriceWindow(context.Background(), "KRW-BTC", domain.IntervalMinute15, 250)
	if err != nil {
		t.Fatalf("PriceWindow: %v", err)
	}
	if calls != 2 {
		t.Fatalf("requests = %d, want 2", calls)
	}
	if win.Len() != 250 {
		t.Fatalf("bars = %d, want 250", win.Len())
	}
	if !win.Bars[0].Time.Equal(t0) || win.Last().Close != 349 {
		t.Fatalf("first=%v last close=%v, want oldest first", win.Bars[0].Time, win.Last().Close)
	}
	for i := 1; i < win.Len(); i++ {
		if !win.Bars[i].Time.After(win.Bars[i-1].Time) {
			t.Fatalf("bars not ascending at %d", i)
		}
	}
}

func TestCurrentPrice(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("markets") != "KRW-ETH" {
			t.Errorf("markets = %s", r.URL.Query().Get("markets"))
		}
		writeJSON(w, []map[string]any{{"market": "KRW-ETH", "trade_price": 4123000.0}})
	}))
	p, err := c.CurrentPrice(context.Background(), "KRW-ETH")
	if err != nil {
		t.Fatalf("CurrentPrice: %v", err)
	}
	if !p.Equal(decimal.NewFromInt(4123000)) {
		t.Fatalf("price = %s", p)
	}
}

func TestBalance(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := parseToken(t, r)
		if _, ok := claims["query_hash"]; ok {
			t.Error("accounts request should not carry a query hash")
		}
		writeJSON(w, []map[string]any{
			{"currency": "KRW", "balance": "150000.5", "locked": "0"},
			{"currency": "BTC", "balance": "0.0002", "locked": "0"},
		})
	}))
	ctx := context.Background()

	tests := []struct {
		asset domain.InstrumentID
		want  string
	}{
		{domain.CashAsset, "150000.5"},
		{"KRW-BTC", "0.0002"},
		{"KRW-ETH", "0"},
	}
	for _, tt := range tests {
		t.Run(string(tt.asset), func(t *testing.T) {
			got, err := c.Balance(ctx, tt.asset)
			if err != nil {
				t.Fatalf("Balance: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Fatalf("Balance = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMarketBuy(t *testing.T) {
	const orderID = "9ca023a5-851b-4fec-9f0a-48cd83c2eaae"
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := parseToken(t, r)
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/orders":
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if body["side"] != "bid" || body["ord_type"] != "price" || body["price"] != "10000" || body["identifier"] != "intent-1" {
				t.Errorf("order body = %v", body)
			}
			query := "identifier=intent-1&market=KRW-BTC&ord_type=price&price=10000&side=bid"
			sum := sha512.Sum512([]byte(query))
			if claims["query_hash"] != hex.EncodeToString(sum[:]) {
				t.Errorf("query hash does not match %q", query)
			}
			writeJSON(w, map[string]any{"uuid": orderID, "state": "wait", "executed_volume": "0"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/order":
			writeJSON(w, map[string]any{
				"uuid":            orderID,
				"state":           "cancel",
				"executed_volume": "0.0002",
				"trades": []map[string]any{
					{"price": "50000000", "volume": "0.0002", "funds": "10000"},
				},
			})
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))

	fill, err := c.MarketBuy(context.Background(), domain.OrderRequest{
		Instrument:     "KRW-BTC",
		Notional:       decimal.NewFromInt(10000),
		IdempotencyKey: "intent-1",
	})
	if err != nil {
		t.Fatalf("MarketBuy: %v", err)
	}
	if fill.OrderID != orderID || !fill.Quantity.Equal(decimal.RequireFromString("0.0002")) || fill.Estimated {
		t.Fatalf("fill = %+v", fill)
	}
	if !fill.Price.Equal(decimal.NewFromInt(50000000)) {
		t.Fatalf("fill price = %s", fill.Price)
	}
}

func TestMarketBuyEstimatesUnreportedVolume(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/orders", "/v1/order":
			writeJSON(w, map[string]any{"uuid": "o-1", "state": "wait", "executed_volume": "0"})
		case "/v1/ticker":
			writeJSON(w, []map[string]any{{"market": "KRW-BTC", "trade_price": 50000000}})
		}
	}))

	fill, err := c.MarketBuy(context.Background(), domain.OrderRequest{Instrument: "KRW-BTC", Notional: decimal.NewFromInt(10000)})
	if err != nil {
		t.Fatalf("MarketBuy: %v", err)
	}
	if !fill.Estimated || !fill.Quantity.Equal(decimal.RequireFromString("0.0002")) {
		t.Fatalf("fill = %+v, want estimated 0.0002", fill)
	}
}

func TestMarketSell(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["side"] != "ask" || body["ord_type"] != "market" || body["volume"] != "0.5" {
			t.Errorf("order body = %v", body)
		}
		writeJSON(w, map[string]any{"uuid": "o-2", "state": "done", "executed_volume": "0.5"})
	}))

	fill, err := c.MarketSell(context.Background(), domain.OrderRequest{Instrument: "KRW-ETH", Quantity: decimal.RequireFromString("0.5")})
	if err != nil {
		t.Fatalf("MarketSell: %v", err)
	}
	if !fill.Quantity.Equal(decimal.RequireFromString("0.5")) || fill.Estimated {
		t.Fatalf("fill = %+v", fill)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		name   string
		want   error
	}{
		{http.StatusBadRequest, "insufficient_funds_bid", domain.ErrInsufficientFunds},
		{http.StatusBadRequest, "under_min_total_bid", domain.ErrInvalidOrder},
		{http.StatusUnauthorized, "jwt_verification", domain.ErrUnauthorized},
		{http.StatusTooManyRequests, "too_many_requests", domain.ErrRateLimited},
		{http.StatusBadGateway, "", domain.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.name), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				writeJSON(w, map[string]any{"error": map[string]string{"name": tt.name, "message": "nope"}})
			}))
			_, err := c.MarketBuy(context.Background(), domain.OrderRequest{Instrument: "KRW-BTC", Notional: decimal.NewFromInt(5000)})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMissingKeys(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:0"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := c.Balance(context.Background(), domain.CashAsset); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestCandlePath(t *testing.T) {
	tests := map[domain.Interval]string{
		domain.IntervalMinute1:  "/v1/candles/minutes/1",
		domain.IntervalMinute60: "/v1/candles/minutes/60",
		domain.IntervalDay:      "/v1/candles/days",
	}
	for iv, want := range tests {
		if got, err := candlePath(iv); err != nil || got != want {
			t.Fatalf("candlePath(%s) = %q, %v; want %q", iv, got, err, want)
		}
	}
	if _, err := candlePath("week"); err == nil {
		t.Fatal("expected error for unsupported interval")
	}
}
