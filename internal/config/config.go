// Package config defines the top-level configuration for the trading bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // trading.timezone must resolve on hosts without zoneinfo

	"github.com/alanyoungcy/autobot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AUTOBOT_* environment variables.
type Config struct {
	Exchange   ExchangeConfig   `toml:"exchange"`
	Trading    TradingConfig    `toml:"trading"`
	Strategies []StrategyConfig `toml:"strategies"`
	Store      StoreConfig      `toml:"store"`
	SQLite     SQLiteConfig     `toml:"sqlite"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Backtest   BacktestConfig   `toml:"backtest"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ExchangeConfig holds the exchange endpoints and API credentials.
type ExchangeConfig struct {
	BaseURL   string `toml:"base_url"`
	WSURL     string `toml:"ws_url"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	// EncryptedSecretPath points at a file written by `autobot encrypt-secret`.
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Quote               string   `toml:"quote"`
	RequestsPerSecond   float64  `toml:"requests_per_second"`
	Burst               int      `toml:"burst"`
	Timeout             duration `toml:"timeout"`
}

// TradingConfig holds the global trading thresholds and loop settings.
type TradingConfig struct {
	Paper     bool    `toml:"paper"`
	PaperCash float64 `toml:"paper_cash"`
	PaperFee  float64 `toml:"paper_fee"`

	MinOrder    float64 `toml:"min_order"`
	Dust        float64 `toml:"dust"`
	TakeProfit  float64 `toml:"take_profit"`
	StopLoss    float64 `toml:"stop_loss"`
	EnforceRisk bool    `toml:"enforce_risk"`

	CallTimeout duration `toml:"call_timeout"`
	LockTTL     duration `toml:"lock_ttl"`
	AlertDedup  duration `toml:"alert_dedup"`
	Tick        duration `toml:"tick"`
	Timezone    string   `toml:"timezone"`

	// Feed streams tickers into the price cache; CurrentPrice then reads the
	// cache when the entry is younger than PriceMaxAge.
	Feed        bool     `toml:"feed"`
	PriceMaxAge duration `toml:"price_max_age"`
}

// StrategyConfig describes one provider and the instruments it trades.
type StrategyConfig struct {
	Name        string   `toml:"name"`
	Instruments []string `toml:"instruments"`
	Interval    string   `toml:"interval"`
	// Schedule is "every 15m" or "daily 09:01"; empty derives it from
	// Interval.
	Schedule string         `toml:"schedule"`
	Cooldown duration       `toml:"cooldown"`
	Bars     int            `toml:"bars"`
	Budget   float64        `toml:"budget"`
	Params   map[string]any `toml:"params"`
	Disabled bool           `toml:"disabled"`
}

// EffectiveSchedule returns Schedule, or a cadence matching Interval: daily
// bars are evaluated once a day at 09:01, intraday bars once per bar.
func (s StrategyConfig) EffectiveSchedule() string {
	if s.Schedule != "" {
		return s.Schedule
	}
	iv := domain.Interval(s.Interval)
	if iv == domain.IntervalDay {
		return "daily 09:01"
	}
	if d := iv.Duration(); d > 0 {
		return "every " + d.String()
	}
	return ""
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string `toml:"backend"`
}

// SQLiteConfig holds the embedded ledger location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	Prefix     string   `toml:"prefix"`
	PriceTTL   duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled              bool   `toml:"enabled"`
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	UseSSL               bool   `toml:"use_ssl"`
	ForcePathStyle       bool   `toml:"force_path_style"`
	Prefix               string `toml:"prefix"`
	PartSizeMB           int    `toml:"part_size_mb"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
	// ArchiveAt is the daily "HH:MM" the archiver runs.
	ArchiveAt string `toml:"archive_at"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards /api when set; JWTSecret additionally accepts HS256
	// bearer tokens.
	APIKey    string `toml:"api_key"`
	JWTSecret string `toml:"jwt_secret"`
	// RateLimit is the per-client request budget per RateWindow. Zero
	// disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramBaseURL   string   `toml:"telegram_base_url"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// Commands enables the Telegram command listener.
	Commands bool `toml:"commands"`
}

// MetricsConfig controls the Prometheus endpoint on the API server.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// BacktestConfig holds the replay parameters used by mode "backtest".
type BacktestConfig struct {
	Instrument string   `toml:"instrument"`
	Interval   string   `toml:"interval"`
	Bars       int      `toml:"bars"`
	Strategies []string `toml:"strategies"`
	Cash       float64  `toml:"cash"`
	Fee        float64  `toml:"fee"`
	Budget     float64  `toml:"budget"`
	// EnforceRisk sells on take-profit or stop-loss during the replay.
	EnforceRisk bool `toml:"enforce_risk"`
	// Pyramid keeps buying while a position is open.
	Pyramid bool `toml:"pyramid"`
	// BarsObject, when set, loads bars from object storage instead of the
	// exchange.
	BarsObject string `toml:"bars_object"`
	// SaveBars stores fetched exchange bars to BarsObject for later runs.
	SaveBars bool `toml:"save_bars"`
	Upload   bool `toml:"upload"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:           "https://api.upbit.com",
			WSURL:             "wss://api.upbit.com/websocket/v1",
			Quote:             "KRW",
			RequestsPerSecond: 8,
			Burst:             8,
			Timeout:           duration{15 * time.Second},
		},
		Trading: TradingConfig{
			Paper:       true,
			PaperCash:   1_000_000,
			PaperFee:    0.0005,
			MinOrder:    5000,
			Dust:        0.0001,
			TakeProfit:  0.05,
			StopLoss:    -0.03,
			CallTimeout: duration{20 * time.Second},
			LockTTL:     duration{2 * time.Minute},
			AlertDedup:  duration{30 * time.Minute},
			Tick:        duration{time.Second},
			Timezone:    "Asia/Seoul",
			PriceMaxAge: duration{5 * time.Second},
		},
		Strategies: defaultStrategies(),
		Store:      StoreConfig{Backend: "sqlite"},
		SQLite:     SQLiteConfig{Path: "data/trade_history.db"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "autobot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Prefix:     "autobot",
			PriceTTL:   duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "autobot-data",
			ForcePathStyle:       true,
			PartSizeMB:           8,
			ArchiveRetentionDays: 90,
			ArchiveAt:            "03:00",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "trade_failed", "strategy_error", "ledger_error", "reconcile"},
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Backtest: BacktestConfig{
			Instrument: "KRW-BTC",
			Interval:   "day",
			Bars:       365,
			Cash:       1_000_000,
			Fee:        0.0005,
			Budget:     10000,
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// defaultStrategies mirrors the bot's stock line-up on KRW-BTC.
func defaultStrategies() []StrategyConfig {
	mk := func(name, interval string, cooldown time.Duration, budget float64) StrategyConfig {
		return StrategyConfig{
			Name:        name,
			Instruments: []string{"KRW-BTC"},
			Interval:    interval,
			Cooldown:    duration{cooldown},
			Budget:      budget,
		}
	}
	return []StrategyConfig{
		mk("moving_average", "minute30", 30*time.Minute, 10000),
		mk("rsi", "minute1", 10*time.Minute, 8000),
		mk("bollinger", "minute15", 30*time.Minute, 12000),
		mk("trend_following", "minute60", time.Hour, 15000),
		mk("grid_trading", "minute1", 5*time.Minute, 10000),
		mk("volatility_breakout", "day", 24*time.Hour, 10000),
		mk("momentum", "minute15", 30*time.Minute, 10000),
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":    true,
	"server":   true,
	"backtest": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Trades reports whether the mode runs the live trading loop.
func (c *Config) Trades() bool {
	m := strings.ToLower(c.Mode)
	return m == "trade" || m == "full"
}

// Serves reports whether the mode runs the HTTP API.
func (c *Config) Serves() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || (m == "full" && c.Server.Enabled)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, server, backtest, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange credentials are only needed to place real orders.
	if c.Trades() && !c.Trading.Paper {
		if c.Exchange.AccessKey == "" {
			errs = append(errs, "exchange: access_key is required when trading.paper is false")
		}
		if c.Exchange.SecretKey == "" && c.Exchange.EncryptedSecretPath == "" {
			errs = append(errs, "exchange: either secret_key or encrypted_secret_path must be set when trading.paper is false")
		}
		if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
			errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}

	// Trading
	if c.Trading.MinOrder <= 0 {
		errs = append(errs, "trading: min_order must be > 0")
	}
	if c.Trading.Dust <= 0 {
		errs = append(errs, "trading: dust must be > 0")
	}
	if c.Trading.TakeProfit <= 0 {
		errs = append(errs, "trading: take_profit must be > 0")
	}
	if c.Trading.StopLoss >= 0 {
		errs = append(errs, "trading: stop_loss must be < 0")
	}
	if c.Trading.Paper && c.Trading.PaperCash <= 0 {
		errs = append(errs, "trading: paper_cash must be > 0 when paper is true")
	}
	if c.Trading.PaperFee < 0 || c.Trading.PaperFee >= 1 {
		errs = append(errs, "trading: paper_fee must be in [0, 1)")
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("trading: timezone %q: %v", c.Trading.Timezone, err))
	}

	// Strategies
	if c.Trades() && len(c.ActiveStrategies()) == 0 {
		errs = append(errs, "strategies: at least one enabled strategy is required for mode "+c.Mode)
	}
	seen := make(map[string]bool)
	for i, s := range c.Strategies {
		label := fmt.Sprintf("strategies[%d] (%s)", i, s.Name)
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("strategies[%d]: name must not be empty", i))
		}
		if seen[s.Name] {
			errs = append(errs, label+": duplicate name")
		}
		seen[s.Name] = true
		if len(s.Instruments) == 0 {
			errs = append(errs, label+": instruments must not be empty")
		}
		if !domain.Interval(s.Interval).Valid() {
			errs = append(errs, fmt.Sprintf("%s: unknown interval %q", label, s.Interval))
		}
		if s.EffectiveSchedule() == "" {
			errs = append(errs, label+": schedule must be set")
		}
		if s.Budget <= 0 {
			errs = append(errs, label+": budget must be > 0")
		}
		if s.Cooldown.Duration < 0 {
			errs = append(errs, label+": cooldown must not be negative")
		}
	}

	// Store
	switch strings.ToLower(c.Store.Backend) {
	case "sqlite":
		if c.SQLite.Path == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: sqlite, postgres)", c.Store.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.ArchiveRetentionDays < 0 {
			errs = append(errs, "s3: archive_retention_days must be >= 0")
		}
		if _, err := time.Parse("15:04", c.S3.ArchiveAt); c.S3.ArchiveRetentionDays > 0 && err != nil {
			errs = append(errs, fmt.Sprintf("s3: archive_at %q must be HH:MM", c.S3.ArchiveAt))
		}
	}

	// Server
	if c.Serves() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if c.Notify.Commands && (c.Notify.TelegramToken == "" || c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id are required when commands is true")
	}

	// Backtest
	if strings.ToLower(c.Mode) == "backtest" {
		if c.Backtest.Instrument == "" {
			errs = append(errs, "backtest: instrument must not be empty")
		}
		if !domain.Interval(c.Backtest.Interval).Valid() {
			errs = append(errs, fmt.Sprintf("backtest: unknown interval %q", c.Backtest.Interval))
		}
		if c.Backtest.Bars < 2 && c.Backtest.BarsObject == "" {
			errs = append(errs, "backtest: bars must be >= 2")
		}
		if c.Backtest.Cash <= 0 || c.Backtest.Budget <= 0 {
			errs = append(errs, "backtest: cash and budget must be > 0")
		}
		if (c.Backtest.Upload || c.Backtest.BarsObject != "") && !c.S3.Enabled {
			errs = append(errs, "backtest: upload and bars_object need s3.enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ActiveStrategies returns the strategies not marked disabled.
func (c *Config) ActiveStrategies() []StrategyConfig {
	out := make([]StrategyConfig, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}
