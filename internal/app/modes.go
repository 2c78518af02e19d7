package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/autobot/internal/backtest"
	s3blob "github.com/alanyoungcy/autobot/internal/blob/s3"
	"github.com/alanyoungcy/autobot/internal/command"
	"github.com/alanyoungcy/autobot/internal/domain"
	"github.com/alanyoungcy/autobot/internal/executor"
	"github.com/alanyoungcy/autobot/internal/feed"
	"github.com/alanyoungcy/autobot/internal/notify"
	"github.com/alanyoungcy/autobot/internal/scheduler"
	"github.com/alanyoungcy/autobot/internal/server"
	"github.com/alanyoungcy/autobot/internal/server/handler"
	"github.com/alanyoungcy/autobot/internal/server/ws"
	"github.com/alanyoungcy/autobot/internal/service"
	"github.com/alanyoungcy/autobot/internal/strategy"
)

// positionRefresh is how often server-only mode reloads positions written
// by a trading process elsewhere.
const positionRefresh = time.Minute

// TradeMode restores positions, reconciles pending intents and runs the
// scheduler with its supporting loops.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	eng, err := a.buildEngine(deps)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startTrading(ctx, g, deps, eng); err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	return g.Wait()
}

// ServerMode serves the read-only API over the shared ledger without
// trading.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	eng, err := a.buildEngine(deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(positionRefresh)
		defer ticker.Stop()
		for {
			a.restorePositions(ctx, deps, eng)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
	a.startHTTPServer(ctx, g, deps, eng, nil)
	return g.Wait()
}

// FullMode trades and, when enabled, serves the API from one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	eng, err := a.buildEngine(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startTrading(ctx, g, deps, eng); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if a.cfg.Serves() {
		a.startHTTPServer(ctx, g, deps, eng, eng.scheduler)
	}
	return g.Wait()
}

// BacktestMode replays the configured strategies over historical bars and
// returns once every report is logged.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	bc := a.cfg.Backtest
	a.logger.InfoContext(ctx, "starting backtest mode",
		slog.String("instrument", bc.Instrument),
		slog.String("interval", bc.Interval),
	)

	window, err := a.backtestBars(ctx, deps)
	if err != nil {
		return fmt.Errorf("backtest mode: %w", err)
	}
	providers, err := a.backtestProviders()
	if err != nil {
		return fmt.Errorf("backtest mode: %w", err)
	}

	runner := backtest.NewRunner(backtest.Config{
		Cash:     decimal.NewFromFloat(bc.Cash),
		Fee:      decimal.NewFromFloat(bc.Fee),
		Budget:   decimal.NewFromFloat(bc.Budget),
		MinOrder: decimal.NewFromFloat(a.cfg.Trading.MinOrder),
		Risk: service.RiskConfig{
			TakeProfit: decimal.NewFromFloat(a.cfg.Trading.TakeProfit),
			StopLoss:   decimal.NewFromFloat(a.cfg.Trading.StopLoss),
		},
		EnforceRisk: bc.EnforceRisk,
		Pyramid:     bc.Pyramid,
	}, a.logger)

	reports := runner.RunAll(ctx, providers, window)
	if len(reports) == 0 {
		return fmt.Errorf("backtest mode: no strategy produced a report")
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Return.GreaterThan(reports[j].Return) })
	for rank, rep := range reports {
		a.logger.InfoContext(ctx, "backtest ranking",
			slog.Int("rank", rank+1),
			slog.String("strategy", string(rep.Strategy)),
			slog.String("return", rep.Return.StringFixed(4)),
			slog.Int("round_trips", rep.RoundTrips),
			slog.Float64("win_rate", rep.WinRate),
		)
	}

	if bc.Upload && deps.BlobWriter != nil {
		at := time.Now()
		for _, rep := range reports {
			p, err := backtest.Upload(ctx, deps.BlobWriter, rep, at)
			if err != nil {
				a.logger.WarnContext(ctx, "backtest report upload failed",
					slog.String("strategy", string(rep.Strategy)),
					slog.String("error", err.Error()),
				)
				continue
			}
			a.logger.InfoContext(ctx, "backtest report uploaded", slog.String("path", p))
		}
	}
	return nil
}

// backtestBars loads bars from object storage, or fetches them from the
// exchange and optionally stores them for the next run.
func (a *App) backtestBars(ctx context.Context, deps *Dependencies) (domain.PriceWindow, error) {
	bc := a.cfg.Backtest
	inst := domain.InstrumentID(bc.Instrument)
	iv := domain.Interval(bc.Interval)

	if bc.BarsObject != "" && !bc.SaveBars {
		if deps.BlobReader == nil {
			return domain.PriceWindow{}, fmt.Errorf("bars_object set but object storage is disabled")
		}
		return backtest.LoadBars(ctx, deps.BlobReader, bc.BarsObject, inst, iv)
	}

	window, err := deps.Exchange.PriceWindow(ctx, inst, iv, bc.Bars)
	if err != nil {
		return domain.PriceWindow{}, fmt.Errorf("fetch bars: %w", err)
	}
	if bc.SaveBars && bc.BarsObject != "" && deps.BlobWriter != nil {
		if err := backtest.SaveBars(ctx, deps.BlobWriter, bc.BarsObject, window); err != nil {
			a.logger.WarnContext(ctx, "saving bars failed", slog.String("error", err.Error()))
		}
	}
	return window, nil
}

// backtestProviders builds the providers named in backtest.strategies, or
// every active strategy when the list is empty. Params come from the
// matching [[strategies]] entry.
func (a *App) backtestProviders() ([]strategy.SignalProvider, error) {
	params := make(map[string]strategy.Params)
	var names []string
	for _, s := range a.cfg.ActiveStrategies() {
		params[s.Name] = strategy.Params(s.Params)
		names = append(names, s.Name)
	}
	if len(a.cfg.Backtest.Strategies) > 0 {
		names = a.cfg.Backtest.Strategies
	}

	out := make([]strategy.SignalProvider, 0, len(names))
	for _, name := range names {
		p, err := strategy.New(domain.StrategyID(name), params[name])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// engine is the trading loop assembled from configuration.
type engine struct {
	coordinator *executor.Coordinator
	scheduler   *scheduler.Scheduler
	positions   *service.PositionLedger
	reports     *service.ReportService
	instruments []domain.InstrumentID
}

func (a *App) buildEngine(deps *Dependencies) (*engine, error) {
	cfg := a.cfg
	loc, err := time.LoadLocation(cfg.Trading.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}

	registry := strategy.NewRegistry()
	sched := scheduler.New(cfg.Trading.Tick.Duration, a.logger)
	bases := make(map[domain.StrategyID]decimal.Decimal)
	cooldowns := make(map[domain.Pair]time.Duration)
	seen := make(map[domain.InstrumentID]bool)
	var (
		pairs       []executor.PairConfig
		instruments []domain.InstrumentID
	)

	for _, s := range cfg.ActiveStrategies() {
		id := domain.StrategyID(s.Name)
		provider, err := strategy.New(id, strategy.Params(s.Params))
		if err != nil {
			return nil, err
		}
		registry.Register(provider)

		spec, err := scheduler.Parse(s.EffectiveSchedule(), loc)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", s.Name, err)
		}
		budget := decimal.NewFromFloat(s.Budget)
		bases[id] = budget

		for _, raw := range s.Instruments {
			inst := domain.InstrumentID(raw)
			pair := domain.Pair{Strategy: id, Instrument: inst}
			pairs = append(pairs, executor.PairConfig{
				Pair:     pair,
				Interval: domain.Interval(s.Interval),
				Bars:     s.Bars,
				Cooldown: s.Cooldown.Duration,
				Budget:   budget,
			})
			cooldowns[pair] = s.Cooldown.Duration
			sched.Register(pair, spec)
			if !seen[inst] {
				seen[inst] = true
				instruments = append(instruments, inst)
			}
		}
	}

	positions := service.NewPositionLedger()
	cooldown := service.NewCooldownGate(deps.Ledger)
	risk := service.NewRiskEvaluator(service.RiskConfig{
		TakeProfit: decimal.NewFromFloat(cfg.Trading.TakeProfit),
		StopLoss:   decimal.NewFromFloat(cfg.Trading.StopLoss),
	})
	allocator := service.NewBudgetAllocator(deps.Gateway, bases, a.logger)

	coordDeps := executor.Deps{
		Providers: registry,
		Market:    deps.Market,
		Gateway:   deps.Gateway,
		Ledger:    deps.Ledger,
		Positions: positions,
		Cooldown:  cooldown,
		Risk:      risk,
		Budget:    allocator,
		Notifier:  deps.Notifier,
		Locks:     deps.Locks,
	}
	if deps.Bus != nil {
		coordDeps.Bus = deps.Bus
	}
	if deps.Metrics != nil {
		coordDeps.Observer = deps.Metrics
	}

	coord := executor.NewCoordinator(executor.Config{
		MinOrder:    decimal.NewFromFloat(cfg.Trading.MinOrder),
		Dust:        decimal.NewFromFloat(cfg.Trading.Dust),
		CallTimeout: cfg.Trading.CallTimeout.Duration,
		LockTTL:     cfg.Trading.LockTTL.Duration,
		AlertDedup:  cfg.Trading.AlertDedup.Duration,
		EnforceRisk: cfg.Trading.EnforceRisk,
	}, pairs, coordDeps, a.logger)

	reports := service.NewReportService(positions, deps.Ledger, deps.Market, deps.Gateway,
		cooldown, allocator, risk, cooldowns, a.logger)

	return &engine{
		coordinator: coord,
		scheduler:   sched,
		positions:   positions,
		reports:     reports,
		instruments: instruments,
	}, nil
}

func (a *App) restorePositions(ctx context.Context, deps *Dependencies, eng *engine) {
	n, err := eng.positions.Restore(ctx, deps.Ledger)
	if err != nil {
		a.logger.WarnContext(ctx, "position restore failed", slog.String("error", err.Error()))
		return
	}
	a.logger.DebugContext(ctx, "positions restored", slog.Int("open", n))
	if deps.Metrics != nil {
		deps.Metrics.SetOpenPositions(n)
	}
}

// startTrading restores state and adds the scheduler, ticker feed, outcome
// journal, archiver and command listener to g.
func (a *App) startTrading(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine) error {
	n, err := eng.positions.Restore(ctx, deps.Ledger)
	if err != nil {
		return err
	}
	if deps.Metrics != nil {
		deps.Metrics.SetOpenPositions(n)
	}
	a.logger.InfoContext(ctx, "positions restored", slog.Int("open", n))

	if settled, err := eng.coordinator.Reconcile(ctx); err != nil {
		a.logger.WarnContext(ctx, "intent reconciliation failed", slog.String("error", err.Error()))
	} else if settled > 0 {
		a.logger.InfoContext(ctx, "intents reconciled", slog.Int("count", settled))
	}

	g.Go(func() error {
		return eng.scheduler.Run(ctx, func(ctx context.Context, pair domain.Pair) {
			eng.coordinator.Evaluate(ctx, pair)
		})
	})

	if deps.Ticker != nil {
		var bus domain.SignalBus
		if deps.Bus != nil {
			bus = deps.Bus
		}
		f := feed.NewTickerFeed(deps.Ticker, deps.PriceCache, bus, eng.instruments, a.logger)
		if deps.Metrics != nil {
			f.CountWith(deps.Metrics.IncTicks)
		}
		g.Go(func() error { return f.Run(ctx) })
	}

	if deps.Bus != nil {
		g.Go(func() error {
			return deps.Bus.Journal(ctx, executor.OutcomeChannel, executor.OutcomeStream, a.logger)
		})
	}

	if deps.Archiver != nil && a.cfg.S3.ArchiveRetentionDays > 0 {
		loc, err := time.LoadLocation(a.cfg.Trading.Timezone)
		if err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
		spec, err := scheduler.DailyAt(a.cfg.S3.ArchiveAt, loc)
		if err != nil {
			return fmt.Errorf("archive_at: %w", err)
		}
		retention := time.Duration(a.cfg.S3.ArchiveRetentionDays) * 24 * time.Hour
		g.Go(func() error { return a.runArchiver(ctx, deps.Archiver, spec, retention) })
	}

	if a.cfg.Notify.Commands && deps.Telegram != nil {
		router := command.NewRouter(eng.reports, a.logger)
		listener := notify.NewCommandListener(deps.Telegram, router, deps.Telegram.ChatID(), a.logger)
		g.Go(func() error { return listener.Run(ctx) })
	}
	return nil
}

// runArchiver copies old trades to object storage once a day.
func (a *App) runArchiver(ctx context.Context, archiver *s3blob.Archiver, spec scheduler.Spec, retention time.Duration) error {
	next := spec.First(time.Now())
	for {
		a.logger.DebugContext(ctx, "next trade archive", slog.Time("at", next))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		n, err := archiver.Run(ctx, retention)
		if err != nil {
			a.logger.WarnContext(ctx, "trade archive failed", slog.String("error", err.Error()))
		} else {
			a.logger.InfoContext(ctx, "trades archived", slog.Int64("rows", n))
		}
		next = spec.Next(next, time.Now())
	}
}

// startHTTPServer adds the API server, its websocket hub and a shutdown
// watcher to g. jobs is nil when nothing is scheduled in this process.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine, jobs handler.JobLister) {
	startedAt := time.Now().UTC()
	h := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, a.cfg.Trading.Paper, jobs, startedAt),
		Positions: handler.NewPositionHandler(eng.reports, deps.Ledger, a.logger),
		Reports:   handler.NewReportHandler(eng.reports, a.logger),
	}
	if deps.Bus != nil {
		h.Outcomes = handler.NewOutcomeHandler(deps.Bus, executor.OutcomeStream, a.logger)
	}
	if deps.BlobReader != nil {
		var runs handler.ArchiveRuns
		if deps.Archiver != nil {
			runs = deps.Archiver
		}
		h.Archives = handler.NewArchiveHandler(deps.BlobReader, runs, a.logger)
	}
	if deps.Metrics != nil {
		h.Metrics = deps.Metrics.Handler()
	}

	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, ws.Config{
			Channels:      []string{executor.OutcomeChannel, feed.TickChannel},
			Mode:          a.cfg.Mode,
			StartedAt:     startedAt,
			OpenPositions: eng.positions.Len,
		}, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		JWTSecret:   a.cfg.Server.JWTSecret,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		MetricsPath: a.cfg.Metrics.Path,
	}, h, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
