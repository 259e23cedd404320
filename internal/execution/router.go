// Package execution turns strategy signals into ledger mutations, gated by
// the circuit breaker and the risk engine.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-worker/internal/account"
	"trading-worker/internal/breaker"
	"trading-worker/internal/events"
	"trading-worker/internal/risk"
	"trading-worker/internal/strategy"
)

const (
	drawdownReason = "drawdown breach"
	drawdownSource = "RiskEngine"
)

// Breaker is the part of the circuit breaker the router needs.
type Breaker interface {
	IsActive() bool
	Trigger(ctx context.Context, reason, triggeredBy string) bool
}

// PriceSource resolves the last known price for a symbol and how long ago
// it was written.
type PriceSource interface {
	GetWithAge(symbol string) (float64, time.Duration, bool)
}

// TradeSink receives every booked trade, e.g. the SQLite trade journal.
type TradeSink interface {
	RecordTrade(t account.Trade)
}

// Result is the outcome of Execute. Err carries the typed cause of a failure.
type Result struct {
	Success  bool              `json:"success"`
	Message  string            `json:"message"`
	Position *account.Position `json:"position,omitempty"`
	Trade    *account.Trade    `json:"trade,omitempty"`
	Decision *risk.Decision    `json:"decision,omitempty"`
	Err      error             `json:"-"`
}

func failure(err error) Result {
	return Result{Success: false, Message: err.Error(), Err: err}
}

// Options carries the optional collaborators.
type Options struct {
	Prices         PriceSource
	Sink           TradeSink
	Bus            *events.Bus
	MaxDrawdownPct float64
	MaxPriceAge    time.Duration // cached prices older than this are refused; 0 disables
	Logger         *zap.Logger
}

// Router is the only writer of the account.
type Router struct {
	mu      sync.Mutex
	risk    *risk.Engine
	account *account.Account
	breaker Breaker
	prices  PriceSource
	sink    TradeSink
	bus     *events.Bus
	maxDD   float64
	maxAge  time.Duration
	peak    float64
	log     *zap.SugaredLogger
}

func NewRouter(engine *risk.Engine, acct *account.Account, brk Breaker, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		risk:    engine,
		account: acct,
		breaker: brk,
		prices:  opts.Prices,
		sink:    opts.Sink,
		bus:     opts.Bus,
		maxDD:   opts.MaxDrawdownPct,
		maxAge:  opts.MaxPriceAge,
		peak:    acct.InitialBalance().InexactFloat64(),
		log:     logger.Named("execution").Sugar(),
	}
}

// Execute applies sig to the account. HOLD is reported as a failure with
// message "HOLD" and no side effects.
func (r *Router) Execute(ctx context.Context, symbol string, sig strategy.Signal) Result {
	if sig.Action == strategy.ActionHold {
		return Result{Success: false, Message: "HOLD"}
	}
	if !sig.Action.Valid() {
		return failure(&risk.ValidationError{Field: "action", Msg: fmt.Sprintf("unknown action %q", sig.Action)})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.breaker != nil && r.breaker.IsActive() {
		return failure(breaker.ErrActive)
	}

	price, err := r.resolvePrice(symbol, sig)
	if err != nil {
		r.log.Warnf("signal rejected: %s %s: %v", sig.Action, symbol, err)
		return failure(err)
	}
	side, fillSide := risk.SideBuy, account.Buy
	if sig.Action == strategy.ActionSell {
		side, fillSide = risk.SideSell, account.Sell
	}
	order := risk.OrderRequest{
		Symbol: symbol,
		Side:   side,
		Amount: sig.Size,
		Price:  price,
		Type:   risk.OrderLimit,
	}
	if sig.Price <= 0 {
		order.Type = risk.OrderMarket
	}

	dec, err := r.risk.CheckOrderLimits(order, r.account.Snapshot())
	if err != nil {
		r.log.Infof("signal rejected: %s %s %.6f: %v", sig.Action, symbol, sig.Size, err)
		return failure(err)
	}

	pos, trade, err := r.account.ApplyFill(account.Fill{
		Symbol: symbol,
		Side:   fillSide,
		Size:   dec.ApprovedAmount,
		Price:  price,
	})
	if err != nil {
		if errors.Is(err, account.ErrInvalidFill) {
			return failure(&risk.ValidationError{Field: "fill", Msg: err.Error()})
		}
		return failure(err)
	}

	if r.sink != nil {
		r.sink.RecordTrade(trade)
	}
	r.bus.Publish(events.EventPositionChange, pos)
	r.log.Infof("✅ %s %.6f %s @ %.2f -> %s %.6f (balance %.2f)",
		sig.Action, dec.ApprovedAmount, symbol, price, pos.Side, pos.Size, trade.BalanceAfter)

	r.checkDrawdown(ctx)

	return Result{
		Success:  true,
		Message:  fmt.Sprintf("%s %.6f %s @ %.2f", sig.Action, dec.ApprovedAmount, symbol, price),
		Position: &pos,
		Trade:    &trade,
		Decision: &dec,
	}
}

// resolvePrice prefers the signal price, then the cached market price, else 0.
// A cached price older than maxAge is refused rather than filled at.
func (r *Router) resolvePrice(symbol string, sig strategy.Signal) (float64, error) {
	if sig.Price > 0 {
		return sig.Price, nil
	}
	if r.prices == nil {
		return 0, nil
	}
	p, age, ok := r.prices.GetWithAge(symbol)
	if !ok || p <= 0 {
		return 0, nil
	}
	if r.maxAge > 0 && age > r.maxAge {
		return 0, &risk.ValidationError{
			Field: "price",
			Msg:   fmt.Sprintf("cached price for %s is %s old (max %s)", symbol, age.Truncate(time.Millisecond), r.maxAge),
		}
	}
	return p, nil
}

// checkDrawdown trips the breaker when marked equity falls below the peak by
// more than maxDD. Caller holds r.mu.
func (r *Router) checkDrawdown(ctx context.Context) {
	if r.maxDD <= 0 || r.breaker == nil {
		return
	}
	equity := r.account.Snapshot().Equity()
	if equity > r.peak {
		r.peak = equity
		return
	}
	if r.peak <= 0 || equity >= r.peak*(1-r.maxDD) {
		return
	}
	dd := (r.peak - equity) / r.peak
	r.log.Warnf("⚠️ drawdown %.2f%% exceeds %.2f%% (equity %.2f, peak %.2f)", dd*100, r.maxDD*100, equity, r.peak)
	if r.breaker.Trigger(ctx, drawdownReason, drawdownSource) {
		r.bus.Publish(events.EventBreakerTripped, events.BreakerChange{Reason: drawdownReason, By: drawdownSource})
	}
}

// Mark revalues a position from a fresh price and re-runs the drawdown guard.
func (r *Router) Mark(ctx context.Context, symbol string, price float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.account.Mark(symbol, price) {
		r.checkDrawdown(ctx)
	}
}
