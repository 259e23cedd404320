package strategy

import (
	"fmt"
	"math"
)

// OrderBlockStrategy treats the recent trading range as a block of resting
// orders and trades a close beyond it by more than the buffer.
type OrderBlockStrategy struct {
	name     string
	lookback int
	buffer   float64 // fraction of price, e.g. 0.001
	size     float64
	win      *windows
}

func NewOrderBlockStrategy(name string, lookback int, buffer, size float64) *OrderBlockStrategy {
	if lookback < 2 {
		lookback = 20
	}
	if buffer < 0 {
		buffer = 0
	}
	// One extra slot so the block excludes the price being evaluated.
	return &OrderBlockStrategy{name: name, lookback: lookback, buffer: buffer, size: size, win: newWindows(lookback + 1)}
}

func (s *OrderBlockStrategy) Name() string { return s.name }

func (s *OrderBlockStrategy) Evaluate(symbol string, price float64) Signal {
	before, _ := s.win.push(symbol, price)
	if len(before) > s.lookback {
		before = before[len(before)-s.lookback:]
	}
	if len(before) < s.lookback {
		return Hold(s.name, fmt.Sprintf("warming up %d/%d", len(before), s.lookback))
	}

	high, low := before[0], before[0]
	for _, p := range before[1:] {
		high = math.Max(high, p)
		low = math.Min(low, p)
	}
	width := high - low

	var action Action
	var dist float64
	switch {
	case price > high*(1+s.buffer):
		action, dist = ActionBuy, price-high
	case price < low*(1-s.buffer):
		action, dist = ActionSell, low-price
	default:
		return Hold(s.name, fmt.Sprintf("inside block [%.2f, %.2f]", low, high))
	}
	if !s.win.changed(symbol, action) {
		return Hold(s.name, fmt.Sprintf("%s already signalled", action))
	}

	conf := 1.0
	if width > 0 {
		conf = clamp01(0.5 + dist/width)
	}
	return Signal{
		Action:     action,
		Confidence: conf,
		Size:       s.size,
		Price:      price,
		Strategy:   s.name,
		Note:       fmt.Sprintf("break of block [%.2f, %.2f]", low, high),
	}
}
