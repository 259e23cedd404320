package strategy

import (
	"fmt"
	"math"
)

// MeanReversionStrategy fades moves that stretch beyond entryZ standard
// deviations from the rolling mean.
type MeanReversionStrategy struct {
	name   string
	period int
	entryZ float64
	size   float64
	win    *windows
}

func NewMeanReversionStrategy(name string, period int, entryZ, size float64) *MeanReversionStrategy {
	if period < 2 {
		period = 20
	}
	if entryZ <= 0 {
		entryZ = 2
	}
	return &MeanReversionStrategy{name: name, period: period, entryZ: entryZ, size: size, win: newWindows(period)}
}

func (s *MeanReversionStrategy) Name() string { return s.name }

func (s *MeanReversionStrategy) Evaluate(symbol string, price float64) Signal {
	_, prices := s.win.push(symbol, price)
	if len(prices) < s.period {
		return Hold(s.name, fmt.Sprintf("warming up %d/%d", len(prices), s.period))
	}

	mean := calculateMA(prices, s.period)
	sd := stdDev(prices, mean)
	if sd == 0 {
		return Hold(s.name, "flat market")
	}
	z := (price - mean) / sd

	var action Action
	switch {
	case z <= -s.entryZ:
		action = ActionBuy
	case z >= s.entryZ:
		action = ActionSell
	default:
		s.win.changed(symbol, ActionHold)
		return Hold(s.name, fmt.Sprintf("z=%.2f inside ±%.2f", z, s.entryZ))
	}
	if !s.win.changed(symbol, action) {
		return Hold(s.name, fmt.Sprintf("%s already signalled", action))
	}
	return Signal{
		Action:     action,
		Confidence: clamp01(math.Abs(z) / (2 * s.entryZ)),
		Size:       s.size,
		Price:      price,
		Strategy:   s.name,
		Note:       fmt.Sprintf("z=%.2f mean=%.2f sd=%.4f", z, mean, sd),
	}
}
