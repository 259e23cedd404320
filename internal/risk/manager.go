// Package risk validates proposed orders against configured limits and the
// current account snapshot.
package risk

import (
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"trading-worker/internal/account"
)

// Engine is stateless with respect to orders: it only reads its limits and
// the snapshot handed to it.
type Engine struct {
	limits Limits
	log    *zap.SugaredLogger

	checks     atomic.Uint64
	rejections atomic.Uint64
	clamps     atomic.Uint64
}

func NewEngine(limits Limits, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{limits: limits, log: logger.Named("risk").Sugar()}
	e.log.Infof("risk engine initialized: max_order_usd=%.2f max_position_usd=%.2f max_order_qty=%.4f max_open_positions=%d",
		limits.MaxOrderUSD, limits.MaxPositionUSD, limits.MaxOrderQty, limits.MaxOpenPositions)
	return e
}

// Limits returns the configured thresholds.
func (e *Engine) Limits() Limits {
	return e.limits
}

// Stats returns check counters.
func (e *Engine) Stats() Stats {
	return Stats{
		ChecksTotal:     e.checks.Load(),
		RejectionsTotal: e.rejections.Load(),
		ClampsTotal:     e.clamps.Load(),
	}
}

// CheckOrderLimits validates order against the limits and snap. It returns a
// *ValidationError for malformed orders and a *RiskLimitError for rejections.
func (e *Engine) CheckOrderLimits(order OrderRequest, snap account.Snapshot) (Decision, error) {
	e.checks.Add(1)

	side, err := validate(order)
	if err != nil {
		e.rejections.Add(1)
		return Decision{}, err
	}
	cfg := e.limits
	dec := Decision{ApprovedAmount: order.Amount}

	// 1. Order notional. Market orders without a price skip this check.
	priced := order.Price > 0
	if priced {
		dec.Notional = order.Amount * order.Price
		if cfg.MaxOrderUSD > 0 && dec.Notional > cfg.MaxOrderUSD {
			return Decision{}, e.reject(&RiskLimitError{Limit: "max_order_usd", Symbol: order.Symbol, Value: dec.Notional, Max: cfg.MaxOrderUSD})
		}
	}

	// 2. Per-trade quantity ceiling clamps rather than rejects.
	if cfg.MaxOrderQty > 0 && dec.ApprovedAmount > cfg.MaxOrderQty {
		e.log.Infof("order amount clamped: %s %.6f -> %.6f", order.Symbol, dec.ApprovedAmount, cfg.MaxOrderQty)
		dec.ApprovedAmount = cfg.MaxOrderQty
		dec.Clamped = true
		e.clamps.Add(1)
		if priced {
			dec.Notional = dec.ApprovedAmount * order.Price
		}
	}

	// 3. Side-aware netting against the current position.
	cur, open := snap.Position(order.Symbol)
	dec.ResultingSize, dec.ResultingSide = netPosition(cur, open, side, dec.ApprovedAmount)

	if priced && cfg.MaxPositionUSD > 0 {
		posNotional := dec.ResultingSize * order.Price
		if posNotional > cfg.MaxPositionUSD {
			return Decision{}, e.reject(&RiskLimitError{Limit: "max_position_usd", Symbol: order.Symbol, Value: posNotional, Max: cfg.MaxPositionUSD})
		}
	}

	// 4. Open position count, only when this order opens a new symbol.
	if !open && cfg.MaxOpenPositions > 0 && len(snap.Positions) >= cfg.MaxOpenPositions {
		return Decision{}, e.reject(&RiskLimitError{
			Limit:  "max_open_positions",
			Symbol: order.Symbol,
			Value:  float64(len(snap.Positions) + 1),
			Max:    float64(cfg.MaxOpenPositions),
		})
	}

	e.log.Debugf("risk approved: %s %s %.6f @ %.2f -> %s %.6f",
		side, order.Symbol, dec.ApprovedAmount, order.Price, dec.ResultingSide, dec.ResultingSize)
	return dec, nil
}

func (e *Engine) reject(err *RiskLimitError) error {
	e.rejections.Add(1)
	e.log.Warnf("risk rejected: %v", err)
	return err
}

func validate(order OrderRequest) (Side, error) {
	if order.Symbol == "" {
		return "", &ValidationError{Field: "symbol", Msg: "is required"}
	}
	if order.Side == "" {
		return "", &ValidationError{Field: "side", Msg: "is required"}
	}
	side, ok := ParseSide(string(order.Side))
	if !ok {
		return "", &ValidationError{Field: "side", Msg: "must be buy or sell, got " + string(order.Side)}
	}
	if !(order.Amount > 0) || math.IsInf(order.Amount, 0) {
		return "", &ValidationError{Field: "amount", Msg: "must be a positive number"}
	}
	if order.Price < 0 || math.IsNaN(order.Price) || math.IsInf(order.Price, 0) {
		return "", &ValidationError{Field: "price", Msg: "must not be negative"}
	}
	return side, nil
}

// netPosition derives the resulting position size. An order against the
// opposite side uses abs(current - amount); this also covers a full reversal,
// where the result is the size of the new opposite position.
func netPosition(cur account.Position, open bool, side Side, amount float64) (float64, string) {
	orderSide := account.Long
	if side == SideSell {
		orderSide = account.Short
	}
	if !open || cur.Side == orderSide {
		return cur.Size + amount, string(orderSide)
	}
	size := math.Abs(cur.Size - amount)
	if amount > cur.Size {
		return size, string(orderSide)
	}
	if size == 0 {
		return 0, ""
	}
	return size, string(cur.Side)
}
