package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(s Strategy, symbol string, prices ...float64) Signal {
	var sig Signal
	for _, p := range prices {
		sig = s.Evaluate(symbol, p)
	}
	return sig
}

func TestMeanReversion(t *testing.T) {
	s := NewMeanReversionStrategy("mr", 5, 1.0, 0.05)

	sig := feed(s, "BTCUSDT", 100, 100, 100, 100)
	assert.Equal(t, ActionHold, sig.Action)

	sig = s.Evaluate("BTCUSDT", 90)
	require.Equal(t, ActionBuy, sig.Action, sig.Note)
	assert.Equal(t, 0.05, sig.Size)
	assert.Equal(t, 90.0, sig.Price)
	assert.Equal(t, 1.0, sig.Confidence)
	assert.Equal(t, "mr", sig.Strategy)

	sig = s.Evaluate("BTCUSDT", 90)
	assert.Equal(t, ActionHold, sig.Action, "repeat entry is suppressed")

	// Windows are per symbol.
	sig = feed(s, "ETHUSDT", 100)
	assert.Equal(t, ActionHold, sig.Action)
}

func TestMeanReversionFlatMarket(t *testing.T) {
	s := NewMeanReversionStrategy("mr", 5, 2, 0.01)
	sig := feed(s, "BTCUSDT", 100, 100, 100, 100, 100)
	assert.Equal(t, ActionHold, sig.Action)
	assert.Equal(t, "flat market", sig.Note)
}

func TestTrendContinuation(t *testing.T) {
	s := NewTrendContinuationStrategy("trend", 2, 4, 0.1)

	sig := feed(s, "ETHUSDT", 1, 2, 3, 4)
	require.Equal(t, ActionBuy, sig.Action, sig.Note)
	assert.GreaterOrEqual(t, sig.Confidence, 0.5)

	sig = s.Evaluate("ETHUSDT", 5)
	assert.Equal(t, ActionHold, sig.Action)

	sig = feed(s, "SOLUSDT", 10, 9, 8, 7)
	assert.Equal(t, ActionSell, sig.Action, sig.Note)
}

func TestOrderBlock(t *testing.T) {
	s := NewOrderBlockStrategy("ob", 3, 0, 0.01)

	sig := feed(s, "BTCUSDT", 100, 101, 99)
	assert.Equal(t, ActionHold, sig.Action)

	sig = s.Evaluate("BTCUSDT", 105)
	require.Equal(t, ActionBuy, sig.Action, sig.Note)
	assert.Equal(t, 1.0, sig.Confidence)

	sig = s.Evaluate("BTCUSDT", 95)
	assert.Equal(t, ActionSell, sig.Action, sig.Note)

	sig = s.Evaluate("BTCUSDT", 100)
	assert.Equal(t, ActionHold, sig.Action)
}

func TestParseConfigAndRegistry(t *testing.T) {
	cfgs, err := ParseConfig([]byte(`
strategies:
  - name: a
    type: mean_reversion
    symbols: [BTCUSDT]
    is_active: true
    parameters: {period: 10, entry_z: 1.5}
  - name: b
    type: order_block
    is_active: true
  - name: c
    type: trend_continuation
    is_active: false
`))
	require.NoError(t, err)
	require.Len(t, cfgs, 3)
	assert.Equal(t, 1.5, cfgs[0].Parameters["entry_z"])

	reg, err := NewRegistry(cfgs, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, reg.Names())

	_, ok := reg.Get("c")
	assert.False(t, ok)

	btc := reg.ForSymbol("BTCUSDT")
	require.Len(t, btc, 2)
	eth := reg.ForSymbol("ETHUSDT")
	require.Len(t, eth, 1)
	assert.Equal(t, "b", eth[0].Name())

	mr, ok := reg.Get("a")
	require.True(t, ok)
	assert.IsType(t, &MeanReversionStrategy{}, mr)
	assert.Equal(t, defaultSize, mr.(*MeanReversionStrategy).size)
}

func TestRegistryRejectsBadConfig(t *testing.T) {
	_, err := NewRegistry([]Config{{Name: "x", Type: "martingale", IsActive: true}}, nil)
	assert.Error(t, err)

	_, err = NewRegistry([]Config{
		{Name: "dup", Type: TypeOrderBlock, IsActive: true},
		{Name: "dup", Type: TypeMeanReversion, IsActive: true},
	}, nil)
	assert.Error(t, err)
}

func TestShippedConfigLoads(t *testing.T) {
	cfgs, err := LoadConfig("../../strategies.yaml")
	require.NoError(t, err)
	reg, err := NewRegistry(cfgs, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, reg.Names())
}

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry(nil)
	assert.Len(t, reg.ForSymbol("ANY"), 1)
}
