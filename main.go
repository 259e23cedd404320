package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"trading-worker/internal/account"
	"trading-worker/internal/api"
	"trading-worker/internal/breaker"
	"trading-worker/internal/events"
	"trading-worker/internal/execution"
	"trading-worker/internal/job"
	"trading-worker/internal/market"
	"trading-worker/internal/monitor"
	"trading-worker/internal/persistence"
	"trading-worker/internal/reconciliation"
	"trading-worker/internal/risk"
	"trading-worker/internal/strategy"
	"trading-worker/internal/worker"
	"trading-worker/pkg/cache"
	"trading-worker/pkg/config"
	"trading-worker/pkg/db"
)

// finishedJobRetention bounds how long terminal jobs stay queryable.
const finishedJobRetention = time.Hour

type app struct {
	cfg *config.Config
	log *zap.SugaredLogger

	database   *db.Database
	bus        *events.Bus
	metrics    *monitor.Metrics
	breaker    *breaker.Breaker
	account    *account.Account
	market     *cache.MarketCache
	worker     *worker.State
	trades     *persistence.TradeJournal
	dispatcher *job.Dispatcher
	server     *api.Server
	monitor    *monitor.Monitor
	feed       *market.PaperFeed
	httpServer *http.Server
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "dev"
	}
	log := logger.Sugar()
	log.Infof("🚀 starting trading worker %s", buildVersion)

	a, err := newApp(cfg, logger, buildVersion)
	if err != nil {
		log.Fatalf("worker init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx); err != nil {
		log.Errorf("worker stopped with error: %v", err)
		a.close()
		os.Exit(1)
	}
	a.close()
	log.Info("👋 shutdown complete")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// newApp wires every component. Nothing runs until run is called.
func newApp(cfg *config.Config, logger *zap.Logger, version string) (_ *app, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &app{
		cfg:     cfg,
		log:     logger.Named("main").Sugar(),
		bus:     events.NewBus(),
		metrics: monitor.NewMetrics(nil),
		market:  cache.NewMarketCache(),
		worker:  worker.NewState(),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()
	a.metrics.RegisterRuntimeCollectors()

	if cfg.EnableTradeJournal || cfg.BreakerStore == config.BreakerStoreSQLite {
		a.database, err = db.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err = db.ApplyMigrations(a.database); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		a.log.Infof("✓ database ready at %s", cfg.DBPath)
	}

	var store breaker.Store
	switch cfg.BreakerStore {
	case config.BreakerStoreSQLite:
		store = breaker.NewSQLiteStore(a.database.DB)
	case config.BreakerStoreMemory:
		store = breaker.NewMemoryStore()
	case config.BreakerStoreFile, "":
		store = breaker.NewFileStore(cfg.BreakerPath)
	default:
		return nil, fmt.Errorf("unknown breaker store %q", cfg.BreakerStore)
	}
	a.breaker = breaker.New(context.Background(), store, logger)

	a.account = account.New(cfg.InitialBalance)
	engine := risk.NewEngine(risk.Limits{
		MaxOrderUSD:      cfg.MaxOrderUSD,
		MaxPositionUSD:   cfg.MaxPositionUSD,
		MaxOrderQty:      cfg.MaxOrderQty,
		MaxOpenPositions: cfg.MaxOpenPositions,
	}, logger)

	routerOpts := execution.Options{
		Prices:         a.market,
		Bus:            a.bus,
		MaxDrawdownPct: cfg.MaxDrawdownPct,
		MaxPriceAge:    cfg.MaxPriceAge,
		Logger:         logger,
	}
	if cfg.EnableTradeJournal {
		a.trades = persistence.NewTradeJournal(a.database.DB, logger)
		routerOpts.Sink = a.trades
	}
	router := execution.NewRouter(engine, a.account, a.breaker, routerOpts)

	strategies, err := loadStrategies(cfg.StrategyConfigPath, logger)
	if err != nil {
		return nil, err
	}

	var journal job.Journal
	if cfg.EnableJobWAL {
		fj, jerr := job.OpenFileJournal(cfg.JobWALPath, logger)
		if jerr != nil {
			return nil, fmt.Errorf("open job WAL: %w", jerr)
		}
		journal = fj
	}

	a.dispatcher = job.NewDispatcher(job.Config{
		MaxRetries:    cfg.JobMaxRetries,
		Timeout:       cfg.JobTimeout,
		BackoffMin:    cfg.JobBackoffMin,
		BackoffMax:    cfg.JobBackoffMax,
		BackoffFactor: cfg.JobBackoffFactor,
		Jitter:        true,
	}, job.Deps{
		Breaker: a.breaker,
		Worker:  a.worker,
		Metrics: a.metrics,
		Bus:     a.bus,
		Journal: journal,
		Logger:  logger,
	})
	handlers := &job.Handlers{
		Market:     a.market,
		Router:     router,
		Strategies: strategies,
		// Paper mode: no exchange adapter, reconciliation reports no drift.
		Reconciler: reconciliation.NewService(nil, a.account, a.bus, logger),
		Worker:     a.worker,
		Metrics:    a.metrics,
		Bus:        a.bus,
		Logger:     logger,
	}
	handlers.Register(a.dispatcher)

	apiOpts := api.Options{
		Dispatcher: a.dispatcher,
		Breaker:    a.breaker,
		Worker:     a.worker,
		Account:    a.account,
		Risk:       engine,
		Metrics:    a.metrics,
		Market:     a.market,
		Strategies: strategies,
		Bus:        a.bus,
		JWTSecret:  cfg.OperatorSecret(),
		RateLimit:  cfg.APIRateLimit,
		RateBurst:  cfg.APIRateBurst,
		Version:    version,
		Logger:     logger,
	}
	if a.trades != nil {
		apiOpts.Trades = a.trades
	}
	if cfg.AdminJWTSecret == config.DevJWTSecret && cfg.AllowDevSecret {
		a.log.Warn("⚠️ ADMIN_JWT_SECRET is the dev fallback: anyone can forge operator tokens")
	}
	a.server = api.NewServer(apiOpts)
	a.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.monitor = &monitor.Monitor{Bus: a.bus, Sink: monitor.LogSink{Logger: logger}, Logger: logger}
	if cfg.EnablePaperFeed {
		a.feed = &market.PaperFeed{
			Jobs:       a.dispatcher,
			Symbols:    cfg.PaperSymbols,
			StartPrice: cfg.PaperStartPrice,
			Step:       cfg.PaperStep,
			Interval:   cfg.PaperFeedInterval,
			Logger:     logger,
		}
	}
	return a, nil
}

func loadStrategies(path string, logger *zap.Logger) (*strategy.Registry, error) {
	cfgs, err := strategy.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Sugar().Warnf("strategy config %s not found, using defaults", path)
		return strategy.DefaultRegistry(logger), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load strategies: %w", err)
	}
	return strategy.NewRegistry(cfgs, logger)
}

// run recovers journaled jobs and serves until ctx is done, then drains.
func (a *app) run(ctx context.Context) error {
	n, err := a.dispatcher.Recover()
	if err != nil {
		a.log.Warnf("⚠️ job WAL recovery failed: %v", err)
	} else if n > 0 {
		a.log.Infof("recovered %d jobs", n)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.monitor.Start(runCtx)
	a.server.StartLimiterCleanup(runCtx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.dispatcher.Run(runCtx); err != nil {
			a.log.Errorf("dispatcher error: %v", err)
		}
	}()

	a.enqueue(job.TypeHeartbeat, job.HeartbeatPayload{Source: "startup"})
	a.enqueue(job.TypeSyncState, job.SyncStatePayload{Reason: "startup"})
	if a.feed != nil {
		a.feed.Start(runCtx)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.schedule(runCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.log.Infof("✓ ops API listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case runErr = <-serveErr:
		a.log.Errorf("ops API failed: %v", runErr)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Warnf("http shutdown: %v", err)
	}
	cancel()
	wg.Wait()
	return runErr
}

// schedule enqueues the periodic HEARTBEAT and SYNC_STATE jobs and runs
// housekeeping on the sync interval.
func (a *app) schedule(ctx context.Context) {
	heartbeat := time.NewTicker(positive(a.cfg.HeartbeatInterval, 15*time.Second))
	defer heartbeat.Stop()
	reconcile := time.NewTicker(positive(a.cfg.SyncInterval, 5*time.Minute))
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			a.enqueue(job.TypeHeartbeat, job.HeartbeatPayload{Source: "ticker"})
		case <-reconcile.C:
			a.enqueue(job.TypeSyncState, job.SyncStatePayload{Reason: "interval"})
			a.housekeeping()
		}
	}
}

// housekeeping forgets old finished jobs and symbols with no recent tick.
func (a *app) housekeeping() {
	if n := a.dispatcher.Prune(finishedJobRetention); n > 0 {
		a.log.Debugf("pruned %d finished jobs", n)
	}
	if a.cfg.MarketCacheTTL > 0 {
		if n := a.market.Cleanup(a.cfg.MarketCacheTTL); n > 0 {
			a.log.Infof("dropped %d stale market entries", n)
		}
	}
}

func (a *app) enqueue(t job.Type, payload any) {
	if _, err := a.dispatcher.Enqueue(t, payload); err != nil && !errors.Is(err, job.ErrClosed) {
		a.log.Warnf("enqueue %s failed: %v", t, err)
	}
}

func positive(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// close releases resources in reverse order of construction.
func (a *app) close() {
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(); err != nil {
			a.log.Warnf("dispatcher close: %v", err)
		}
	}
	if a.trades != nil {
		if err := a.trades.Close(); err != nil {
			a.log.Warnf("trade journal close: %v", err)
		}
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.log.Warnf("database close: %v", err)
		}
	}
}
