package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AUTOBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AUTOBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file. The exchange keys also honour the UPBIT_* names the bot has
// always read from .env.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.AccessKey, "UPBIT_ACCESS_KEY")
	setStr(&cfg.Exchange.SecretKey, "UPBIT_SECRET_KEY")
	setStr(&cfg.Exchange.BaseURL, "AUTOBOT_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WSURL, "AUTOBOT_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.AccessKey, "AUTOBOT_EXCHANGE_ACCESS_KEY")
	setStr(&cfg.Exchange.SecretKey, "AUTOBOT_EXCHANGE_SECRET_KEY")
	setStr(&cfg.Exchange.EncryptedSecretPath, "AUTOBOT_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "AUTOBOT_EXCHANGE_SECRET_PASSWORD")
	setStr(&cfg.Exchange.Quote, "AUTOBOT_EXCHANGE_QUOTE")
	setFloat64(&cfg.Exchange.RequestsPerSecond, "AUTOBOT_EXCHANGE_REQUESTS_PER_SECOND")
	setInt(&cfg.Exchange.Burst, "AUTOBOT_EXCHANGE_BURST")
	setDuration(&cfg.Exchange.Timeout, "AUTOBOT_EXCHANGE_TIMEOUT")

	// ── Trading ──
	setBool(&cfg.Trading.Paper, "AUTOBOT_TRADING_PAPER")
	setFloat64(&cfg.Trading.PaperCash, "AUTOBOT_TRADING_PAPER_CASH")
	setFloat64(&cfg.Trading.PaperFee, "AUTOBOT_TRADING_PAPER_FEE")
	setFloat64(&cfg.Trading.MinOrder, "AUTOBOT_TRADING_MIN_ORDER")
	setFloat64(&cfg.Trading.Dust, "AUTOBOT_TRADING_DUST")
	setFloat64(&cfg.Trading.TakeProfit, "AUTOBOT_TRADING_TAKE_PROFIT")
	setFloat64(&cfg.Trading.StopLoss, "AUTOBOT_TRADING_STOP_LOSS")
	setBool(&cfg.Trading.EnforceRisk, "AUTOBOT_TRADING_ENFORCE_RISK")
	setDuration(&cfg.Trading.CallTimeout, "AUTOBOT_TRADING_CALL_TIMEOUT")
	setDuration(&cfg.Trading.LockTTL, "AUTOBOT_TRADING_LOCK_TTL")
	setDuration(&cfg.Trading.AlertDedup, "AUTOBOT_TRADING_ALERT_DEDUP")
	setDuration(&cfg.Trading.Tick, "AUTOBOT_TRADING_TICK")
	setStr(&cfg.Trading.Timezone, "AUTOBOT_TRADING_TIMEZONE")
	setBool(&cfg.Trading.Feed, "AUTOBOT_TRADING_FEED")
	setDuration(&cfg.Trading.PriceMaxAge, "AUTOBOT_TRADING_PRICE_MAX_AGE")

	// ── Store ──
	setStr(&cfg.Store.Backend, "AUTOBOT_STORE_BACKEND")
	setStr(&cfg.SQLite.Path, "AUTOBOT_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AUTOBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "AUTOBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AUTOBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AUTOBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AUTOBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AUTOBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AUTOBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AUTOBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AUTOBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AUTOBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "AUTOBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "AUTOBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUTOBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUTOBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AUTOBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AUTOBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AUTOBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "AUTOBOT_REDIS_PREFIX")
	setDuration(&cfg.Redis.PriceTTL, "AUTOBOT_REDIS_PRICE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "AUTOBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "AUTOBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AUTOBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "AUTOBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AUTOBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AUTOBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AUTOBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AUTOBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "AUTOBOT_S3_PREFIX")
	setInt(&cfg.S3.PartSizeMB, "AUTOBOT_S3_PART_SIZE_MB")
	setInt(&cfg.S3.ArchiveRetentionDays, "AUTOBOT_S3_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.S3.ArchiveAt, "AUTOBOT_S3_ARCHIVE_AT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "AUTOBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "AUTOBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AUTOBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "AUTOBOT_SERVER_API_KEY")
	setStr(&cfg.Server.JWTSecret, "AUTOBOT_SERVER_JWT_SECRET")
	setInt(&cfg.Server.RateLimit, "AUTOBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "AUTOBOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramToken, "AUTOBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AUTOBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramBaseURL, "AUTOBOT_NOTIFY_TELEGRAM_BASE_URL")
	setStr(&cfg.Notify.DiscordWebhookURL, "AUTOBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AUTOBOT_NOTIFY_EVENTS")
	setBool(&cfg.Notify.Commands, "AUTOBOT_NOTIFY_COMMANDS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "AUTOBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Path, "AUTOBOT_METRICS_PATH")

	// ── Backtest ──
	setStr(&cfg.Backtest.Instrument, "AUTOBOT_BACKTEST_INSTRUMENT")
	setStr(&cfg.Backtest.Interval, "AUTOBOT_BACKTEST_INTERVAL")
	setInt(&cfg.Backtest.Bars, "AUTOBOT_BACKTEST_BARS")
	setStringSlice(&cfg.Backtest.Strategies, "AUTOBOT_BACKTEST_STRATEGIES")
	setFloat64(&cfg.Backtest.Cash, "AUTOBOT_BACKTEST_CASH")
	setFloat64(&cfg.Backtest.Fee, "AUTOBOT_BACKTEST_FEE")
	setFloat64(&cfg.Backtest.Budget, "AUTOBOT_BACKTEST_BUDGET")
	setBool(&cfg.Backtest.EnforceRisk, "AUTOBOT_BACKTEST_ENFORCE_RISK")
	setBool(&cfg.Backtest.Pyramid, "AUTOBOT_BACKTEST_PYRAMID")
	setStr(&cfg.Backtest.BarsObject, "AUTOBOT_BACKTEST_BARS_OBJECT")
	setBool(&cfg.Backtest.SaveBars, "AUTOBOT_BACKTEST_SAVE_BARS")
	setBool(&cfg.Backtest.Upload, "AUTOBOT_BACKTEST_UPLOAD")

	// ── Top-level ──
	setStr(&cfg.Mode, "AUTOBOT_MODE")
	setStr(&cfg.LogLevel, "AUTOBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
