package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
	"github.com/alanyoungcy/autobot/internal/server/handler"
	"github.com/alanyoungcy/autobot/internal/server/ws"
	"github.com/alanyoungcy/autobot/internal/service"
	"github.com/alanyoungcy/autobot/internal/store/sqlite"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeReports struct {
	cashErr error
}

func (fakeReports) Positions(context.Context) []service.PositionView {
	return []service.PositionView{{
		Pair:       domain.Pair{Strategy: "rsi", Instrument: "KRW-BTC"},
		EntryPrice: decimal.NewFromInt(100),
		Quantity:   decimal.NewFromInt(2),
	}}
}

func (fakeReports) PnL(context.Context) ([]service.StrategyPnL, error) {
	return []service.StrategyPnL{{Strategy: "rsi", Realized: decimal.NewFromInt(42), Trades: 2}}, nil
}

func (f fakeReports) Ranking(ctx context.Context) ([]service.StrategyPnL, error) { return f.PnL(ctx) }

func (fakeReports) NextBuys(context.Context) ([]service.NextBuy, error) { return nil, nil }

func (f fakeReports) Cash(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000), f.cashErr
}

func (fakeReports) Budgets(context.Context) ([]service.BudgetLine, decimal.Decimal, error) {
	return nil, decimal.Zero, nil
}

type fakeStreams struct {
	msgs []domain.StreamMessage
}

func (f fakeStreams) StreamRecent(_ context.Context, _ string, count int) ([]domain.StreamMessage, error) {
	return f.msgs[:min(count, len(f.msgs))], nil
}

type countingLimiter struct {
	mu    sync.Mutex
	seen  map[string]int
	limit int
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[string]int)
	}
	l.seen[key]++
	return l.seen[key] <= l.limit, nil
}

type emptyBlobs struct{}

func (emptyBlobs) Get(context.Context, string) (io.ReadCloser, error) { return nil, domain.ErrNotFound }
func (emptyBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	return []domain.BlobInfo{{Path: prefix + "trades/2026-01.jsonl", Size: 10}}, nil
}
func (emptyBlobs) Exists(context.Context, string) (bool, error) { return false, nil }

type lastRun struct{}

func (lastRun) LastRun(context.Context) (domain.ArchiveRun, bool, error) {
	return domain.ArchiveRun{
		Path:   "archive/trades/2026-01.jsonl",
		Count:  7,
		Before: time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
	}, true, nil
}

func newTestServer(t *testing.T, cfg Config, limiter domain.RateLimiter) (http.Handler, *sqlite.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := testLogger()
	h := Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Check{
			"ledger": db.Ping,
		}, logger),
		Status:    handler.NewStatusHandler("full", true, nil, time.Now()),
		Positions: handler.NewPositionHandler(fakeReports{}, db, logger),
		Reports:   handler.NewReportHandler(fakeReports{}, logger),
		Outcomes: handler.NewOutcomeHandler(fakeStreams{msgs: []domain.StreamMessage{
			{ID: "2-0", Payload: []byte(`{"outcome":"executed"}`)},
			{ID: "1-0", Payload: []byte(`not json`)},
		}}, "stream:outcome", logger),
		Archives: handler.NewArchiveHandler(emptyBlobs{}, lastRun{}, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "autobot_ticks_total 1\n")
		}),
	}
	return NewServer(cfg, h, nil, limiter, logger).Handler(), db
}

func do(t *testing.T, h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func signJWT(t *testing.T, secret string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.MapClaims{"sub": "operator", "exp": exp.Unix()})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestAuth(t *testing.T) {
	h, _ := newTestServer(t, Config{APIKey: "k3y", JWTSecret: "jwt-secret"}, nil)

	tests := []struct {
		name   string
		target string
		header map[string]string
		want   int
	}{
		{name: "health is public", target: "/api/health", want: http.StatusOK},
		{name: "metrics is public", target: "/metrics", want: http.StatusOK},
		{name: "missing token", target: "/api/positions", want: http.StatusUnauthorized},
		{name: "api key header", target: "/api/positions", header: map[string]string{"X-API-Key": "k3y"}, want: http.StatusOK},
		{name: "api key bearer", target: "/api/positions", header: map[string]string{"Authorization": "Bearer k3y"}, want: http.StatusOK},
		{name: "wrong key", target: "/api/positions", header: map[string]string{"X-API-Key": "nope"}, want: http.StatusUnauthorized},
		{name: "query token", target: "/api/status?token=k3y", want: http.StatusOK},
		{
			name:   "valid jwt",
			target: "/api/positions",
			header: map[string]string{"Authorization": "Bearer " + signJWT(t, "jwt-secret", jwt.SigningMethodHS256, time.Now().Add(time.Hour))},
			want:   http.StatusOK,
		},
		{
			name:   "expired jwt",
			target: "/api/positions",
			header: map[string]string{"Authorization": "Bearer " + signJWT(t, "jwt-secret", jwt.SigningMethodHS256, time.Now().Add(-time.Hour))},
			want:   http.StatusUnauthorized,
		},
		{
			name:   "jwt with other secret",
			target: "/api/positions",
			header: map[string]string{"Authorization": "Bearer " + signJWT(t, "other", jwt.SigningMethodHS256, time.Now().Add(time.Hour))},
			want:   http.StatusUnauthorized,
		},
		{
			name:   "jwt with other algorithm",
			target: "/api/positions",
			header: map[string]string{"Authorization": "Bearer " + signJWT(t, "jwt-secret", jwt.SigningMethodHS512, time.Now().Add(time.Hour))},
			want:   http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.target, tt.header)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("response has no request ID")
			}
		})
	}
}

func TestReports(t *testing.T) {
	h, _ := newTestServer(t, Config{}, nil)

	tests := []struct {
		name     string
		want     int
		contains string
	}{
		{name: "positions", want: http.StatusOK, contains: `"instrument":"KRW-BTC"`},
		{name: "pnl", want: http.StatusOK, contains: `"realized":"42"`},
		{name: "ranking", want: http.StatusOK, contains: `"ranking"`},
		{name: "nextbuy", want: http.StatusOK, contains: `"pairs"`},
		{name: "cash", want: http.StatusOK, contains: `"cash":"1000"`},
		{name: "budget", want: http.StatusOK, contains: `"budgets"`},
		{name: "bogus", want: http.StatusNotFound, contains: "unknown report"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, "/api/report/"+tt.name, nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body %s does not contain %s", rec.Body, tt.contains)
			}
		})
	}
}

func TestReportFailureIsBadGateway(t *testing.T) {
	logger := testLogger()
	h := NewServer(Config{}, Handlers{
		Reports: handler.NewReportHandler(fakeReports{cashErr: errors.New("exchange down")}, logger),
	}, nil, nil, logger).Handler()

	rec := do(t, h, "/api/report/cash", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestListTrades(t *testing.T) {
	h, db := newTestServer(t, Config{}, nil)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, s := range []domain.StrategyID{"rsi", "momentum", "rsi"} {
		_, err := db.Append(ctx, domain.TradeRecord{
			Timestamp:  t0.Add(time.Duration(i) * time.Hour),
			Instrument: "KRW-BTC",
			Side:       domain.SideBuy,
			Quantity:   decimal.RequireFromString("0.1"),
			Price:      decimal.NewFromInt(int64(100 + i)),
			Strategy:   s,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rec := do(t, h, "/api/trades?strategy=rsi", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		Trades []struct {
			Strategy string          `json:"strategy"`
			Price    decimal.Decimal `json:"price"`
			Notional decimal.Decimal `json:"notional"`
		} `json:"trades"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(body.Trades))
	}
	if !body.Trades[0].Price.Equal(decimal.NewFromInt(102)) || !body.Trades[0].Notional.Equal(decimal.RequireFromString("10.2")) {
		t.Errorf("newest trade = %+v", body.Trades[0])
	}

	rec = do(t, h, "/api/trades?since=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since: status = %d, want 400", rec.Code)
	}
}

func TestOutcomesAndArchives(t *testing.T) {
	h, _ := newTestServer(t, Config{}, nil)

	rec := do(t, h, "/api/outcomes?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("outcomes status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"id":"2-0"`) || strings.Contains(rec.Body.String(), `"1-0"`) {
		t.Errorf("outcomes body = %s, want only the JSON entry", rec.Body)
	}

	rec = do(t, h, "/api/archives", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "archive/trades/2026-01.jsonl") {
		t.Fatalf("archives = %d %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"last_run":{`) || !strings.Contains(rec.Body.String(), `"count":7`) {
		t.Errorf("archives body = %s, want last_run", rec.Body)
	}
	rec = do(t, h, "/api/archives?prefix=secrets/", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("foreign prefix status = %d, want 400", rec.Code)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	limiter := &countingLimiter{limit: 2}
	h, _ := newTestServer(t, Config{RateLimit: 2, RateWindow: time.Minute}, limiter)

	for i := 0; i < 2; i++ {
		if rec := do(t, h, "/api/status", map[string]string{"X-Forwarded-For": "10.0.0.1"}); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	if rec := do(t, h, "/api/status", map[string]string{"X-Forwarded-For": "10.0.0.1"}); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", rec.Code)
	}
	if rec := do(t, h, "/api/status", map[string]string{"X-Forwarded-For": "10.0.0.2"}); rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", rec.Code)
	}
	if rec := do(t, h, "/api/health", map[string]string{"X-Forwarded-For": "10.0.0.1"}); rec.Code != http.StatusOK {
		t.Fatalf("health should not be rate limited, got %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	h, _ := newTestServer(t, Config{CORSOrigins: []string{"https://ops.example/"}, APIKey: "k"}, nil)

	tests := []struct {
		name       string
		method     string
		origin     string
		reqMethod  string
		wantStatus int
		wantOrigin string
	}{
		{"preflight", http.MethodOptions, "https://OPS.example", http.MethodGet, http.StatusNoContent, "https://OPS.example"},
		{"preflight without method", http.MethodOptions, "https://ops.example", "", http.StatusNoContent, "https://ops.example"},
		{"foreign origin preflight", http.MethodOptions, "https://evil.example", http.MethodGet, http.StatusForbidden, ""},
		{"write preflight", http.MethodOptions, "https://ops.example", http.MethodPost, http.StatusMethodNotAllowed, "https://ops.example"},
		{"foreign origin get still needs auth", http.MethodGet, "https://evil.example", "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/positions", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.reqMethod != "" {
				req.Header.Set("Access-Control-Request-Method", tt.reqMethod)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Vary"); got != "Origin" {
				t.Errorf("vary = %q, want Origin", got)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("Origin", "https://ops.example")
	req.Header.Set("X-API-Key", "k")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorised get = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "X-Request-ID") || !strings.Contains(got, "Retry-After") {
		t.Errorf("expose headers = %q", got)
	}
}

// memBus is an in-process SignalBus.
type memBus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		ch <- payload
	}
	return nil
}

func (b *memBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[string][]chan []byte)
	}
	ch := make(chan []byte, 16)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

func (b *memBus) subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func TestWebsocketRelaysOutcomes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := &memBus{}
	logger := testLogger()
	hub := ws.NewHub(bus, ws.Config{Channels: []string{"ch:outcome"}, Mode: "trade", OpenPositions: func() int { return 3 }}, logger)
	go hub.Run(ctx)

	srv := httptest.NewServer(NewServer(Config{APIKey: "k"}, Handlers{}, hub, nil, logger).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=k"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello struct {
		Type    string `json:"type"`
		Payload struct {
			Mode          string `json:"mode"`
			OpenPositions int    `json:"open_positions"`
		} `json:"payload"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != "hello" || hello.Payload.Mode != "trade" || hello.Payload.OpenPositions != 3 {
		t.Fatalf("hello = %+v", hello)
	}

	deadline := time.Now().Add(2 * time.Second)
	for bus.subscribers("ch:outcome") == 0 || hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("hub never subscribed or registered the client")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := bus.Publish(ctx, "ch:outcome", []byte(`{"outcome":"executed"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var msg struct {
		Type    string          `json:"type"`
		Channel string          `json:"channel"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	if msg.Type != "message" || msg.Channel != "ch:outcome" || string(msg.Payload) != `{"outcome":"executed"}` {
		t.Fatalf("message = %+v (%s)", msg, msg.Payload)
	}
}
