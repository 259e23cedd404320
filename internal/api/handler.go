package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trading-worker/internal/account"
	"trading-worker/internal/breaker"
	"trading-worker/internal/events"
	"trading-worker/internal/job"
	"trading-worker/internal/monitor"
	"trading-worker/internal/risk"
	"trading-worker/internal/strategy"
	"trading-worker/internal/worker"
	"trading-worker/pkg/cache"
	"trading-worker/pkg/db"
)

// TradeHistory is the read side of the trade journal.
type TradeHistory interface {
	Recent(ctx context.Context, symbol string, limit int) ([]db.TradeRow, error)
	Summary(ctx context.Context, symbol string) (db.TradeSummary, error)
}

// Options carries the components the ops API exposes. Trades, Market and
// Strategies may be nil. An empty JWTSecret disables the mutating routes.
type Options struct {
	Dispatcher *job.Dispatcher
	Breaker    *breaker.Breaker
	Worker     *worker.State
	Account    *account.Account
	Risk       *risk.Engine
	Metrics    *monitor.Metrics
	Trades     TradeHistory
	Market     *cache.MarketCache
	Strategies *strategy.Registry
	Bus        *events.Bus
	JWTSecret  string
	RateLimit  float64
	RateBurst  int
	Version    string
	Logger     *zap.Logger
}

// Server wires the operator endpoints around the worker components.
type Server struct {
	Router *gin.Engine

	dispatcher *job.Dispatcher
	breaker    *breaker.Breaker
	worker     *worker.State
	account    *account.Account
	risk       *risk.Engine
	metrics    *monitor.Metrics
	trades     TradeHistory
	market     *cache.MarketCache
	strategies *strategy.Registry
	bus        *events.Bus
	jwtSecret  string
	version    string
	limiter    *IPRateLimiter
	log        *zap.SugaredLogger
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitor.NewMetrics(nil)
	}
	s := &Server{
		dispatcher: opts.Dispatcher,
		breaker:    opts.Breaker,
		worker:     opts.Worker,
		account:    opts.Account,
		risk:       opts.Risk,
		metrics:    opts.Metrics,
		trades:     opts.Trades,
		market:     opts.Market,
		strategies: opts.Strategies,
		bus:        opts.Bus,
		jwtSecret:  opts.JWTSecret,
		version:    opts.Version,
		limiter:    NewIPRateLimiter(opts.RateLimit, opts.RateBurst),
		log:        logger.Named("api").Sugar(),
	}
	if s.jwtSecret == "" {
		s.log.Error("🚨 no operator secret configured: POST /api/jobs and breaker trigger/reset are disabled")
	}

	r := gin.New()
	// Order matters: recovery first, the request id before the logger.
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger.Named("http")))
	r.Use(RateLimitMiddleware(s.limiter))
	r.Use(CORSMiddleware())
	s.Router = r

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/:id", s.getJob)
		api.GET("/breaker", s.getBreaker)
		api.GET("/worker", s.getWorker)
		api.GET("/account", s.getAccount)
		api.GET("/trades", s.getTrades)
		api.GET("/risk", s.getRisk)
		api.GET("/metrics/latency", s.getLatency)
		api.GET("/market", s.getMarket)
		api.GET("/strategies", s.getStrategies)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.jwtSecret))
		{
			protected.POST("/jobs", s.enqueueJob)
			protected.POST("/breaker/trigger", s.triggerBreaker)
			protected.POST("/breaker/reset", s.resetBreaker)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok", "version": s.version}
	if s.worker != nil {
		ws := s.worker.Snapshot()
		body["worker"] = ws.Status
		if ws.Status == worker.StatusOffline {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	if s.breaker != nil {
		body["breaker_active"] = s.breaker.IsActive()
	}
	c.JSON(status, body)
}

// StartLimiterCleanup drops idle per-IP limiters until ctx is done.
func (s *Server) StartLimiterCleanup(ctx context.Context) {
	go s.limiter.Run(ctx)
}
