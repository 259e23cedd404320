package strategy

import (
	"math"
	"sync"
)

// windows keeps a bounded price history per symbol plus the last non-HOLD
// action, so a strategy does not repeat the same entry on every tick.
type windows struct {
	mu       sync.Mutex
	size     int
	prices   map[string][]float64
	lastSent map[string]Action
}

func newWindows(size int) *windows {
	return &windows{
		size:     size,
		prices:   make(map[string][]float64),
		lastSent: make(map[string]Action),
	}
}

// push appends price and returns a copy of the window before the append
// and after it.
func (w *windows) push(symbol string, price float64) (before, after []float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur := w.prices[symbol]
	before = append([]float64(nil), cur...)
	cur = append(cur, price)
	if len(cur) > w.size {
		cur = cur[len(cur)-w.size:]
	}
	w.prices[symbol] = cur
	after = append([]float64(nil), cur...)
	return before, after
}

// changed records action for symbol and reports whether it differs from the
// previous one.
func (w *windows) changed(symbol string, action Action) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastSent[symbol] == action {
		return false
	}
	w.lastSent[symbol] = action
	return true
}

// calculateMA calculates simple moving average for the last n periods.
func calculateMA(prices []float64, period int) float64 {
	if len(prices) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period)
}

func stdDev(prices []float64, mean float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	var sq float64
	for _, p := range prices {
		d := p - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(prices)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
