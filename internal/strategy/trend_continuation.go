package strategy

import "fmt"

// TrendContinuationStrategy joins an established trend: fast MA above slow MA
// with price above the fast MA buys, the mirror image sells.
type TrendContinuationStrategy struct {
	name       string
	fastPeriod int
	slowPeriod int
	size       float64
	win        *windows
}

func NewTrendContinuationStrategy(name string, fastPeriod, slowPeriod int, size float64) *TrendContinuationStrategy {
	if fastPeriod <= 0 {
		fastPeriod = 10
	}
	if slowPeriod <= fastPeriod {
		slowPeriod = fastPeriod * 3
	}
	return &TrendContinuationStrategy{
		name:       name,
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		size:       size,
		win:        newWindows(slowPeriod),
	}
}

func (s *TrendContinuationStrategy) Name() string { return s.name }

func (s *TrendContinuationStrategy) Evaluate(symbol string, price float64) Signal {
	_, prices := s.win.push(symbol, price)
	if len(prices) < s.slowPeriod {
		return Hold(s.name, fmt.Sprintf("warming up %d/%d", len(prices), s.slowPeriod))
	}

	fast := calculateMA(prices, s.fastPeriod)
	slow := calculateMA(prices, s.slowPeriod)

	var action Action
	switch {
	case fast > slow && price > fast:
		action = ActionBuy
	case fast < slow && price < fast:
		action = ActionSell
	default:
		return Hold(s.name, fmt.Sprintf("no trend: MA%d=%.2f MA%d=%.2f", s.fastPeriod, fast, s.slowPeriod, slow))
	}
	if !s.win.changed(symbol, action) {
		return Hold(s.name, fmt.Sprintf("%s already signalled", action))
	}

	spread := (fast - slow) / slow
	if spread < 0 {
		spread = -spread
	}
	return Signal{
		Action:     action,
		Confidence: clamp01(0.5 + spread*50),
		Size:       s.size,
		Price:      price,
		Strategy:   s.name,
		Note:       fmt.Sprintf("MA%d(%.2f) vs MA%d(%.2f)", s.fastPeriod, fast, s.slowPeriod, slow),
	}
}
