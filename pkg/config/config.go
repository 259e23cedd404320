package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Breaker store backends.
const (
	BreakerStoreFile   = "file"
	BreakerStoreSQLite = "sqlite"
	BreakerStoreMemory = "memory"
)

// Config holds environment-driven settings for the worker.
type Config struct {
	Port string

	// Logging
	LogLevel  string
	LogFormat string // "json" or "console"

	// Storage
	DBPath             string
	BreakerStore       string
	BreakerPath        string
	EnableTradeJournal bool

	// Ledger
	InitialBalance float64

	// Risk limits
	MaxOrderUSD      float64
	MaxPositionUSD   float64
	MaxOrderQty      float64
	MaxOpenPositions int
	MaxDrawdownPct   float64
	MaxPriceAge      time.Duration

	// Job pipeline
	JobMaxRetries     int
	JobTimeout        time.Duration
	JobBackoffMin     time.Duration
	JobBackoffMax     time.Duration
	JobBackoffFactor  float64
	EnableJobWAL      bool
	JobWALPath        string
	HeartbeatInterval time.Duration
	SyncInterval      time.Duration

	// Market cache
	MarketCacheTTL time.Duration

	// Strategies
	StrategyConfigPath string

	// Paper feed
	EnablePaperFeed   bool
	PaperSymbols      []string
	PaperStartPrice   float64
	PaperStep         float64
	PaperFeedInterval time.Duration

	// Operator API
	AdminJWTSecret string
	AllowDevSecret bool
	APIRateLimit   float64
	APIRateBurst   int
}

// DevJWTSecret is the fallback when ADMIN_JWT_SECRET is unset.
const DevJWTSecret = "dev-secret"

// OperatorSecret is the secret the mutating routes verify against. It is
// empty, which disables those routes, while the dev fallback is in use and
// ALLOW_DEV_SECRET is not set.
func (c *Config) OperatorSecret() string {
	if c.AdminJWTSecret == DevJWTSecret && !c.AllowDevSecret {
		return ""
	}
	return c.AdminJWTSecret
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the worker still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "json")),
		DBPath:             getEnv("DB_PATH", "./data/worker.db"),
		BreakerStore:       strings.ToLower(getEnv("BREAKER_STORE", BreakerStoreFile)),
		BreakerPath:        getEnv("BREAKER_PATH", "./data/circuit_breaker.json"),
		EnableTradeJournal: getEnv("ENABLE_TRADE_JOURNAL", "true") == "true",
		InitialBalance:     getEnvFloat("INITIAL_BALANCE", 10000.0),
		MaxOrderUSD:        getEnvFloat("MAX_ORDER_USD", 10000.0),
		MaxPositionUSD:     getEnvFloat("MAX_POSITION_USD", 50000.0),
		MaxOrderQty:        getEnvFloat("MAX_ORDER_QTY", 0),
		MaxOpenPositions:   getEnvInt("MAX_OPEN_POSITIONS", 0),
		MaxDrawdownPct:     getEnvFloat("MAX_DRAWDOWN_PCT", 0.25),
		MaxPriceAge:        getEnvDuration("MAX_PRICE_AGE", time.Minute),
		JobMaxRetries:      getEnvInt("JOB_MAX_RETRIES", 3),
		JobTimeout:         getEnvDuration("JOB_TIMEOUT", 10*time.Second),
		JobBackoffMin:      getEnvDuration("JOB_BACKOFF_MIN", 500*time.Millisecond),
		JobBackoffMax:      getEnvDuration("JOB_BACKOFF_MAX", 30*time.Second),
		JobBackoffFactor:   getEnvFloat("JOB_BACKOFF_FACTOR", 2),
		EnableJobWAL:       getEnv("ENABLE_JOB_WAL", "true") == "true",
		JobWALPath:         getEnv("JOB_WAL_PATH", "./data/job_wal"),
		HeartbeatInterval:  getEnvDuration("HEARTBEAT_INTERVAL", 15*time.Second),
		SyncInterval:       getEnvDuration("SYNC_INTERVAL", 5*time.Minute),
		MarketCacheTTL:     getEnvDuration("MARKET_CACHE_TTL", time.Hour),
		StrategyConfigPath: getEnv("STRATEGY_CONFIG", "strategies.yaml"),
		EnablePaperFeed:    getEnv("PAPER_FEED", "false") == "true",
		PaperSymbols:       getEnvList("PAPER_SYMBOLS", []string{"BTC/USDT"}),
		PaperStartPrice:    getEnvFloat("PAPER_START_PRICE", 100),
		PaperStep:          getEnvFloat("PAPER_STEP", 0.5),
		PaperFeedInterval:  getEnvDuration("PAPER_INTERVAL", time.Second),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", DevJWTSecret),
		AllowDevSecret:     getEnv("ALLOW_DEV_SECRET", "false") == "true",
		APIRateLimit:       getEnvFloat("API_RATE_LIMIT", 20),
		APIRateBurst:       getEnvInt("API_RATE_BURST", 50),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// getEnvDuration accepts Go durations ("750ms") or plain seconds ("30").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
