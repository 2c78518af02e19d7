package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/autobot/internal/blob/s3"
	"github.com/alanyoungcy/autobot/internal/cache/redis"
	"github.com/alanyoungcy/autobot/internal/config"
	"github.com/alanyoungcy/autobot/internal/crypto"
	"github.com/alanyoungcy/autobot/internal/domain"
	"github.com/alanyoungcy/autobot/internal/feed"
	"github.com/alanyoungcy/autobot/internal/metrics"
	"github.com/alanyoungcy/autobot/internal/notify"
	"github.com/alanyoungcy/autobot/internal/platform/paper"
	"github.com/alanyoungcy/autobot/internal/platform/upbit"
	"github.com/alanyoungcy/autobot/internal/server/handler"
	"github.com/alanyoungcy/autobot/internal/store/postgres"
	"github.com/alanyoungcy/autobot/internal/store/sqlite"
)

// Dependencies bundles every port implementation the modes use. Optional
// parts are nil when their backend is disabled.
type Dependencies struct {
	// Ledger and Audit are nil in backtest mode, which keeps its own
	// in-memory ledger.
	Ledger domain.Ledger
	Audit  domain.AuditStore

	// Exchange serves candles and tickers; with credentials it also trades.
	Exchange *upbit.Client
	// Market is Exchange, fronted by the price cache when the ticker feed
	// is enabled.
	Market  domain.MarketData
	Gateway domain.OrderGateway
	// Paper is set when Gateway is the simulated one.
	Paper *paper.Gateway

	PriceCache domain.PriceCache
	Ticker     *upbit.TickerStream

	// Redis-backed, nil without redis.enabled.
	Locks       domain.LockManager
	Bus         *redis.SignalBus
	RateLimiter domain.RateLimiter

	// S3-backed, nil without s3.enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	Notifier *notify.Notifier
	// Telegram is set when a bot token and chat are configured.
	Telegram *notify.TelegramBot

	// Metrics is nil when metrics are disabled.
	Metrics *metrics.Collectors

	// Checks feed the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs the dependencies for cfg and returns them with a cleanup
// function that releases connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}
	backtest := strings.EqualFold(cfg.Mode, "backtest")

	// --- Ledger ---
	if !backtest {
		switch strings.ToLower(cfg.Store.Backend) {
		case "postgres":
			pg, err := postgres.New(ctx, postgres.ClientConfig{
				DSN:      cfg.Postgres.DSN,
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				Database: cfg.Postgres.Database,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				SSLMode:  cfg.Postgres.SSLMode,
				MaxConns: cfg.Postgres.PoolMaxConns,
				MinConns: cfg.Postgres.PoolMinConns,
			})
			if err != nil {
				return fail("postgres", err)
			}
			closers = append(closers, pg.Close)
			if cfg.Postgres.RunMigrations {
				if err := pg.RunMigrations(ctx); err != nil {
					return fail("postgres migrations", err)
				}
			}
			deps.Ledger = postgres.NewLedger(pg)
			deps.Audit = postgres.NewAuditStore(pg.Pool())
			deps.Checks["ledger"] = pg.Ping
		default:
			db, err := sqlite.Open(ctx, cfg.SQLite.Path)
			if err != nil {
				return fail("sqlite", err)
			}
			closers = append(closers, func() { _ = db.Close() })
			deps.Ledger = db
			deps.Audit = db.Audit()
			deps.Checks["ledger"] = db.Ping
		}
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.PriceCache = redis.NewPriceCache(rc, cfg.Redis.PriceTTL.Duration)
		deps.Locks = redis.NewLockManager(rc)
		deps.Bus = redis.NewSignalBus(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.Checks["redis"] = rc.Ping
	} else {
		deps.PriceCache = feed.NewMemoryCache()
	}

	// --- Exchange ---
	creds, err := exchangeCredentials(cfg)
	if err != nil {
		return fail("exchange credentials", err)
	}
	deps.Exchange = upbit.NewClient(upbit.ClientConfig{
		BaseURL:           cfg.Exchange.BaseURL,
		Credentials:       creds,
		Quote:             cfg.Exchange.Quote,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		Burst:             cfg.Exchange.Burst,
		Timeout:           cfg.Exchange.Timeout.Duration,
	}, logger)
	deps.Market = deps.Exchange
	if cfg.Trading.Feed && !backtest {
		deps.Ticker = upbit.NewTickerStream(cfg.Exchange.WSURL, logger)
		closers = append(closers, func() { _ = deps.Ticker.Close() })
		deps.Market = feed.NewCachedMarketData(deps.Exchange, deps.PriceCache, cfg.Trading.PriceMaxAge.Duration, logger)
	}

	if cfg.Trading.Paper {
		deps.Paper = paper.NewGateway(deps.Market,
			decimal.NewFromFloat(cfg.Trading.PaperCash),
			decimal.NewFromFloat(cfg.Trading.PaperFee),
		)
		deps.Gateway = deps.Paper
	} else {
		deps.Gateway = deps.Exchange
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.BlobWriter = s3blob.NewWriter(sc, int64(cfg.S3.PartSizeMB)<<20)
		reader := s3blob.NewReader(sc)
		deps.BlobReader = reader
		if deps.Ledger != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, reader, deps.Ledger, deps.Audit, logger)
		}
		deps.Checks["s3"] = sc.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		deps.Telegram = notify.NewTelegramBot(cfg.Notify.TelegramBaseURL, cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		senders = append(senders, deps.Telegram)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	return deps, cleanup, nil
}

// exchangeCredentials resolves the API key pair. Paper trading and backtests
// run on public endpoints, so a missing secret is only an error when live
// orders are needed.
func exchangeCredentials(cfg *config.Config) (upbit.Credentials, error) {
	creds := upbit.Credentials{AccessKey: cfg.Exchange.AccessKey}
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:           cfg.Exchange.SecretKey,
		EncryptedPath: cfg.Exchange.EncryptedSecretPath,
		Password:      cfg.Exchange.SecretPassword,
	})
	switch {
	case err == nil:
		creds.SecretKey = secret
	case errors.Is(err, crypto.ErrNoSecret) && (cfg.Trading.Paper || !cfg.Trades()):
	default:
		return upbit.Credentials{}, err
	}
	return creds, nil
}
