package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"trading-worker/internal/events"
	"trading-worker/internal/execution"
	"trading-worker/internal/monitor"
	"trading-worker/internal/reconciliation"
	"trading-worker/internal/risk"
	"trading-worker/internal/strategy"
	"trading-worker/internal/worker"
	"trading-worker/pkg/cache"
)

// Reconciler runs one SYNC_STATE comparison.
type Reconciler interface {
	Reconcile(ctx context.Context) (*reconciliation.Report, error)
}

// Handlers binds the job types to their collaborators.
type Handlers struct {
	Market     *cache.MarketCache
	Router     *execution.Router
	Strategies *strategy.Registry
	Reconciler Reconciler
	Worker     *worker.State
	Metrics    *monitor.Metrics
	Bus        *events.Bus
	Logger     *zap.Logger

	log *zap.SugaredLogger

	mu     sync.Mutex
	checks map[string]*SignalCheckResult // checks awaiting a retry, by job id
}

// Register installs one handler per job type on d.
func (h *Handlers) Register(d *Dispatcher) {
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h.log = logger.Named("handlers").Sugar()
	h.checks = make(map[string]*SignalCheckResult)

	d.Handle(TypePriceUpdate, h.priceUpdate)
	d.Handle(TypeSignalCheck, func(ctx context.Context, env Envelope) (any, error) {
		return h.signalCheck(ctx, d, env)
	})
	d.Handle(TypeExecuteTrade, h.executeTrade)
	d.Handle(TypeSyncState, h.syncState)
	d.Handle(TypeHeartbeat, h.heartbeat)
}

func decode(env Envelope, v any) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return invalidPayload("%s: %v", env.Type, err)
	}
	return nil
}

// PriceUpdateResult reports whether the tick was newer than the cached one.
type PriceUpdateResult struct {
	Symbol  string  `json:"symbol"`
	Price   float64 `json:"price"`
	Applied bool    `json:"applied"`
}

func (h *Handlers) priceUpdate(ctx context.Context, env Envelope) (any, error) {
	var p PriceUpdatePayload
	if err := decode(env, &p); err != nil {
		return nil, err
	}
	if p.Symbol == "" || !(p.Price > 0) {
		return nil, invalidPayload("price update needs symbol and positive price")
	}
	if h.Market == nil {
		return nil, Permanent(errors.New("market cache not configured"))
	}

	applied := h.Market.Apply(cache.Tick{
		Symbol:    p.Symbol,
		Price:     p.Price,
		Bid:       p.Bid,
		Ask:       p.Ask,
		Volume:    p.Volume,
		Timestamp: p.Timestamp,
	})
	if applied {
		if h.Router != nil {
			h.Router.Mark(ctx, p.Symbol, p.Price)
		}
		h.Bus.Publish(events.EventPriceTick, p)
	}
	return PriceUpdateResult{Symbol: p.Symbol, Price: p.Price, Applied: applied}, nil
}

// SignalCheckResult lists every strategy decision and the trade jobs it produced.
type SignalCheckResult struct {
	Symbol   string            `json:"symbol"`
	Price    float64           `json:"price"`
	Signals  []strategy.Signal `json:"signals"`
	Enqueued []string          `json:"enqueued"`
}

func (h *Handlers) signalCheck(_ context.Context, d *Dispatcher, env Envelope) (any, error) {
	var p SignalCheckPayload
	if err := decode(env, &p); err != nil {
		return nil, err
	}
	if p.Symbol == "" {
		return nil, invalidPayload("signal check needs a symbol")
	}
	if h.Strategies == nil {
		return nil, Permanent(errors.New("no strategies configured"))
	}

	// Strategies keep per-symbol windows, so a retried check must not feed
	// the same price twice. Resume from the first attempt's signals instead.
	res, resumed := h.resumeCheck(env.ID)
	if !resumed {
		price := p.Price
		if price <= 0 && h.Market != nil {
			price, _ = h.Market.Get(p.Symbol)
		}
		if price <= 0 {
			// A later PRICE_UPDATE may fill the cache.
			return nil, Transient(fmt.Errorf("no market price for %s", p.Symbol))
		}

		var strategies []strategy.Strategy
		if p.Strategy != "" {
			s, ok := h.Strategies.Get(p.Strategy)
			if !ok {
				return nil, invalidPayload("unknown strategy %q", p.Strategy)
			}
			strategies = []strategy.Strategy{s}
		} else {
			strategies = h.Strategies.ForSymbol(p.Symbol)
		}

		res = &SignalCheckResult{Symbol: p.Symbol, Price: price, Signals: []strategy.Signal{}, Enqueued: []string{}}
		for _, s := range strategies {
			res.Signals = append(res.Signals, s.Evaluate(p.Symbol, price))
		}
	}

	tradable := 0
	for _, sig := range res.Signals {
		if sig.Action != strategy.ActionBuy && sig.Action != strategy.ActionSell {
			continue
		}
		tradable++
		if tradable <= len(res.Enqueued) {
			continue
		}
		trade, err := d.Enqueue(TypeExecuteTrade, ExecuteTradePayload{Symbol: p.Symbol, Signal: sig})
		if err != nil {
			h.holdCheck(d, env, res)
			return *res, fmt.Errorf("enqueue trade for %s: %w", sig.Strategy, err)
		}
		res.Enqueued = append(res.Enqueued, trade.ID)
		h.log.Infof("📈 %s: %s %s size=%.6f conf=%.2f -> job %s", sig.Strategy, sig.Action, p.Symbol, sig.Size, sig.Confidence, trade.ID)
	}
	h.dropCheck(env.ID)
	return *res, nil
}

func (h *Handlers) resumeCheck(id string) (*SignalCheckResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	res, ok := h.checks[id]
	return res, ok
}

// holdCheck keeps a partly enqueued check for its retry. The last attempt
// keeps nothing.
func (h *Handlers) holdCheck(d *Dispatcher, env Envelope, res *SignalCheckResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if env.RetryCount >= d.cfg.MaxRetries {
		delete(h.checks, env.ID)
		return
	}
	if h.checks == nil {
		h.checks = make(map[string]*SignalCheckResult)
	}
	h.checks[env.ID] = res
}

func (h *Handlers) dropCheck(id string) {
	h.mu.Lock()
	delete(h.checks, id)
	h.mu.Unlock()
}

func (h *Handlers) executeTrade(ctx context.Context, env Envelope) (any, error) {
	var p ExecuteTradePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, &risk.ValidationError{Field: "payload", Msg: err.Error()}
	}
	if h.Router == nil {
		return nil, Permanent(errors.New("execution router not configured"))
	}

	res := h.Router.Execute(ctx, p.Symbol, p.Signal)
	if res.Success || res.Message == "HOLD" {
		return res, nil
	}
	if res.Err != nil {
		return res, res.Err
	}
	return res, errors.New(res.Message)
}

func (h *Handlers) syncState(ctx context.Context, _ Envelope) (any, error) {
	if h.Reconciler == nil {
		return map[string]string{"status": "skipped"}, nil
	}
	report, err := h.Reconciler.Reconcile(ctx)
	if err != nil {
		return nil, Transient(err)
	}
	return report, nil
}

// HeartbeatResult carries the interval since the previous beat.
type HeartbeatResult struct {
	AgeSeconds float64 `json:"age_seconds"`
}

func (h *Handlers) heartbeat(_ context.Context, _ Envelope) (any, error) {
	if h.Worker == nil {
		return nil, Permanent(errors.New("worker state not configured"))
	}
	interval := h.Worker.Heartbeat()
	h.Metrics.ObserveHeartbeat(interval)
	return HeartbeatResult{AgeSeconds: interval.Seconds()}, nil
}
