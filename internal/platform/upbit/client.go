package upbit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// maxCandles is the page size limit of the candle endpoints.
const maxCandles = 200

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL     string
	Credentials Credentials
	// Quote is the quote currency reported for domain.CashAsset.
	Quote string
	// RequestsPerSecond throttles all REST calls; Burst is the bucket size.
	RequestsPerSecond float64
	Burst             int
	// FillPolls is how many times an order is re-read waiting for its
	// executed volume, FillPollInterval apart.
	FillPolls        int
	FillPollInterval time.Duration
	Timeout          time.Duration
}

// Client is the REST client for the exchange. It implements
// domain.MarketData and domain.OrderGateway.
type Client struct {
	baseURL    string
	creds      Credentials
	quote      string
	httpClient *http.Client
	limiter    *rate.Limiter
	fillPolls  int
	fillWait   time.Duration
	logger     *slog.Logger
}

var (
	_ domain.MarketData   = (*Client)(nil)
	_ domain.OrderGateway = (*Client)(nil)
)

// NewClient creates a Client. Zero config values fall back to sensible
// defaults.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.upbit.com"
	}
	if cfg.Quote == "" {
		cfg.Quote = "KRW"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 8
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 8
	}
	if cfg.FillPolls <= 0 {
		cfg.FillPolls = 5
	}
	if cfg.FillPollInterval <= 0 {
		cfg.FillPollInterval = 300 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		creds:      cfg.Credentials,
		quote:      cfg.Quote,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		fillPolls:  cfg.FillPolls,
		fillWait:   cfg.FillPollInterval,
		logger:     logger.With(slog.String("component", "upbit")),
	}
}

// PriceWindow returns the last count bars of instrument, oldest first.
// Requests larger than one page are fetched backwards with the "to" cursor.
func (c *Client) PriceWindow(ctx context.Context, instrument domain.InstrumentID, interval domain.Interval, count int) (domain.PriceWindow, error) {
	path, err := candlePath(interval)
	if err != nil {
		return domain.PriceWindow{}, err
	}

	var candles []APICandle
	to := ""
	for len(candles) < count {
		q := url.Values{}
		q.Set("market", string(instrument))
		q.Set("count", strconv.Itoa(min(maxCandles, count-len(candles))))
		if to != "" {
			q.Set("to", to)
		}
		var page []APICandle
		if err := c.get(ctx, path, q, false, &page); err != nil {
			return domain.PriceWindow{}, fmt.Errorf("upbit: candles %s: %w", instrument, err)
		}
		if len(page) == 0 {
			break
		}
		candles = append(candles, page...)
		to = page[len(page)-1].TimeUTC
		if len(page) < maxCandles {
			break
		}
	}

	// The API returns newest first.
	bars := make([]domain.Bar, 0, len(candles))
	for _, cd := range slices.Backward(candles) {
		bars = append(bars, cd.ToDomainBar())
	}
	return domain.PriceWindow{Instrument: instrument, Interval: interval, Bars: bars}, nil
}

// CurrentPrice returns the last trade price of instrument.
func (c *Client) CurrentPrice(ctx context.Context, instrument domain.InstrumentID) (decimal.Decimal, error) {
	prices, err := c.Tickers(ctx, []domain.InstrumentID{instrument})
	if err != nil {
		return decimal.Zero, err
	}
	p, ok := prices[instrument]
	if !ok {
		return decimal.Zero, fmt.Errorf("upbit: ticker %s: %w", instrument, domain.ErrNotFound)
	}
	return p, nil
}

// Tickers returns the last trade price of each instrument.
func (c *Client) Tickers(ctx context.Context, instruments []domain.InstrumentID) (map[domain.InstrumentID]decimal.Decimal, error) {
	codes := make([]string, len(instruments))
	for i, in := range instruments {
		codes[i] = string(in)
	}
	q := url.Values{}
	q.Set("markets", strings.Join(codes, ","))

	var tickers []APITicker
	if err := c.get(ctx, "/v1/ticker", q, false, &tickers); err != nil {
		return nil, fmt.Errorf("upbit: ticker: %w", err)
	}
	out := make(map[domain.InstrumentID]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		out[domain.InstrumentID(t.Market)] = t.TradePrice
	}
	return out, nil
}

// Accounts returns every balance held by the account.
func (c *Client) Accounts(ctx context.Context) ([]APIAccount, error) {
	var accounts []APIAccount
	if err := c.get(ctx, "/v1/accounts", nil, true, &accounts); err != nil {
		return nil, fmt.Errorf("upbit: accounts: %w", err)
	}
	return accounts, nil
}

// Balance returns the free balance of the base currency of asset, or of the
// quote currency for domain.CashAsset. A currency the account does not hold
// has a zero balance.
func (c *Client) Balance(ctx context.Context, asset domain.InstrumentID) (decimal.Decimal, error) {
	currency := c.quote
	if asset != domain.CashAsset {
		currency = baseCurrency(asset)
	}
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, a := range accounts {
		if a.Currency == currency {
			return a.Balance, nil
		}
	}
	return decimal.Zero, nil
}

// MarketBuy spends req.Notional of the quote currency on instrument.
func (c *Client) MarketBuy(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	if !req.Notional.IsPositive() {
		return domain.Fill{}, fmt.Errorf("upbit: market buy: %w", domain.ErrInvalidOrder)
	}
	params := url.Values{}
	params.Set("market", string(req.Instrument))
	params.Set("side", "bid")
	params.Set("ord_type", "price")
	params.Set("price", req.Notional.String())
	if req.IdempotencyKey != "" {
		params.Set("identifier", req.IdempotencyKey)
	}

	order, err := c.placeOrder(ctx, params)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("upbit: market buy %s: %w", req.Instrument, err)
	}
	order = c.awaitFill(ctx, order)

	fill := domain.Fill{
		OrderID:  order.UUID,
		Quantity: order.ExecutedVolume,
		Price:    order.AvgPrice(),
	}
	if !fill.Quantity.IsPositive() {
		// Not reported yet; estimate from the ticker.
		price, perr := c.CurrentPrice(ctx, req.Instrument)
		if perr == nil && price.IsPositive() {
			fill.Quantity = req.Notional.Div(price)
			fill.Price = price
			fill.Estimated = true
		}
		c.logger.WarnContext(ctx, "buy fill volume not reported, estimated",
			slog.String("order", order.UUID),
			slog.String("quantity", fill.Quantity.String()),
		)
	}
	return fill, nil
}

// MarketSell sells req.Quantity of instrument at market.
func (c *Client) MarketSell(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	if !req.Quantity.IsPositive() {
		return domain.Fill{}, fmt.Errorf("upbit: market sell: %w", domain.ErrInvalidOrder)
	}
	params := url.Values{}
	params.Set("market", string(req.Instrument))
	params.Set("side", "ask")
	params.Set("ord_type", "market")
	params.Set("volume", req.Quantity.String())
	if req.IdempotencyKey != "" {
		params.Set("identifier", req.IdempotencyKey)
	}

	order, err := c.placeOrder(ctx, params)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("upbit: market sell %s: %w", req.Instrument, err)
	}
	order = c.awaitFill(ctx, order)

	fill := domain.Fill{OrderID: order.UUID, Quantity: order.ExecutedVolume, Price: order.AvgPrice()}
	if !fill.Quantity.IsPositive() {
		fill.Quantity = req.Quantity
		fill.Estimated = true
	}
	return fill, nil
}

// Order reads an order by uuid.
func (c *Client) Order(ctx context.Context, id string) (APIOrder, error) {
	q := url.Values{}
	q.Set("uuid", id)
	var order APIOrder
	if err := c.get(ctx, "/v1/order", q, true, &order); err != nil {
		return APIOrder{}, fmt.Errorf("upbit: order %s: %w", id, err)
	}
	return order, nil
}

func (c *Client) placeOrder(ctx context.Context, params url.Values) (APIOrder, error) {
	body := make(map[string]string, len(params))
	for k := range params {
		body[k] = params.Get(k)
	}
	raw, err := c.do(ctx, http.MethodPost, "/v1/orders", params, body, true)
	if err != nil {
		return APIOrder{}, err
	}
	var order APIOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return APIOrder{}, fmt.Errorf("decode order: %w", err)
	}
	return order, nil
}

// awaitFill re-reads order until it settles or reports an executed volume.
// Read failures end the wait and return the last known state.
func (c *Client) awaitFill(ctx context.Context, order APIOrder) APIOrder {
	for i := 0; i < c.fillPolls && !order.Settled(); i++ {
		select {
		case <-ctx.Done():
			return order
		case <-time.After(c.fillWait):
		}
		next, err := c.Order(ctx, order.UUID)
		if err != nil {
			c.logger.WarnContext(ctx, "order poll failed",
				slog.String("order", order.UUID),
				slog.String("error", err.Error()),
			)
			return order
		}
		order = next
	}
	return order
}

func (c *Client) get(ctx context.Context, path string, q url.Values, auth bool, out any) error {
	raw, err := c.do(ctx, http.MethodGet, path, q, nil, auth)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do sends one request. For GET the params go in the URL; for POST they are
// sent as the JSON body and only hashed into the token.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any, auth bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	target := c.baseURL + path
	if method == http.MethodGet && len(params) > 0 {
		target += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if auth {
		if !c.creds.Valid() {
			return nil, fmt.Errorf("missing api keys: %w", domain.ErrUnauthorized)
		}
		query, _ := url.QueryUnescape(params.Encode())
		token, err := c.creds.Token(query)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx responses to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr APIError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error.Message
	if msg == "" {
		msg = string(body)
	}
	name := apiErr.Error.Name

	switch {
	case strings.HasPrefix(name, "insufficient_funds"):
		return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, msg)
	case name == "under_min_total_bid" || name == "under_min_total_ask" || strings.HasPrefix(name, "invalid_"):
		return fmt.Errorf("%w: %s", domain.ErrInvalidOrder, msg)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrUnavailable, statusCode, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}

func candlePath(interval domain.Interval) (string, error) {
	if interval == domain.IntervalDay {
		return "/v1/candles/days", nil
	}
	unit, ok := strings.CutPrefix(string(interval), "minute")
	if !ok || !interval.Valid() {
		return "", fmt.Errorf("upbit: interval %q: %w", interval, errors.ErrUnsupported)
	}
	return "/v1/candles/minutes/" + unit, nil
}

// baseCurrency returns "BTC" for "KRW-BTC".
func baseCurrency(instrument domain.InstrumentID) string {
	s := string(instrument)
	if i := strings.IndexByte(s, '-'); i >= 0 {
		return s[i+1:]
	}
	return s
}
