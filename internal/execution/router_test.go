package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-worker/internal/account"
	"trading-worker/internal/breaker"
	"trading-worker/internal/risk"
	"trading-worker/internal/strategy"
	"trading-worker/pkg/cache"
)

type recordingSink struct {
	trades []account.Trade
}

func (s *recordingSink) RecordTrade(t account.Trade) { s.trades = append(s.trades, t) }

func newRouter(t *testing.T, limits risk.Limits, opts Options) (*Router, *account.Account, *breaker.Breaker) {
	t.Helper()
	acct := account.New(10000)
	brk := breaker.New(context.Background(), breaker.NewMemoryStore(), nil)
	return NewRouter(risk.NewEngine(limits, nil), acct, brk, opts), acct, brk
}

func TestHoldHasNoSideEffects(t *testing.T) {
	r, acct, _ := newRouter(t, risk.DefaultLimits(), Options{})

	res := r.Execute(context.Background(), "BTCUSDT", strategy.Signal{Action: strategy.ActionHold, Size: 1})

	assert.False(t, res.Success)
	assert.Equal(t, "HOLD", res.Message)
	assert.NoError(t, res.Err)
	snap := acct.Snapshot()
	assert.Empty(t, snap.Positions)
	assert.Empty(t, snap.EquityHistory)
}

func TestBuyOpensLongPosition(t *testing.T) {
	r, acct, _ := newRouter(t, risk.DefaultLimits(), Options{})

	res := r.Execute(context.Background(), "BTCUSDT", strategy.Signal{Action: strategy.ActionBuy, Confidence: 0.8, Size: 0.1})

	require.True(t, res.Success, res.Message)
	require.NotNil(t, res.Position)
	assert.Equal(t, account.Long, res.Position.Side)
	assert.Equal(t, 0.1, res.Position.Size)
	assert.Len(t, acct.Snapshot().EquityHistory, 1)
	assert.Len(t, acct.Trades(), 1)
}

func TestSellOpensShortAndCreditsNotional(t *testing.T) {
	r, acct, _ := newRouter(t, risk.DefaultLimits(), Options{})

	res := r.Execute(context.Background(), "ETHUSDT", strategy.Signal{Action: strategy.ActionSell, Size: 2, Price: 3000})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, account.Short, res.Position.Side)
	assert.Equal(t, 16000.0, acct.Balance().InexactFloat64())
	assert.Equal(t, []float64{16000}, acct.Snapshot().EquityHistory)
}

func TestRiskRejectionLeavesAccountUntouched(t *testing.T) {
	r, acct, _ := newRouter(t, risk.Limits{MaxOrderUSD: 10000}, Options{})

	res := r.Execute(context.Background(), "BTCUSDT", strategy.Signal{Action: strategy.ActionBuy, Size: 1, Price: 60000})

	assert.False(t, res.Success)
	var limitErr *risk.RiskLimitError
	require.True(t, errors.As(res.Err, &limitErr))
	assert.Equal(t, limitErr.Error(), res.Message)
	assert.Empty(t, acct.Snapshot().Positions)
	assert.Equal(t, 10000.0, acct.Balance().InexactFloat64())
}

func TestActiveBreakerBlocksExecution(t *testing.T) {
	r, acct, brk := newRouter(t, risk.DefaultLimits(), Options{})
	brk.Trigger(context.Background(), "manual", "ops")

	res := r.Execute(context.Background(), "BTCUSDT", strategy.Signal{Action: strategy.ActionBuy, Size: 0.1})

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, breaker.ErrActive)
	assert.Empty(t, acct.Snapshot().Positions)
}

func TestUnknownActionIsValidationError(t *testing.T) {
	r, _, _ := newRouter(t, risk.DefaultLimits(), Options{})

	res := r.Execute(context.Background(), "BTCUSDT", strategy.Signal{Action: "SHORT_SQUEEZE", Size: 1})

	var vErr *risk.ValidationError
	assert.True(t, errors.As(res.Err, &vErr))
}

func TestPriceComesFromCacheAndSinkRecords(t *testing.T) {
	prices := cache.NewMarketCache()
	prices.Set("BTCUSDT", 50000)
	sink := &recordingSink{}
	r, acct, _ := newRouter(t, risk.DefaultLimits(), Options{Prices: prices, Sink: sink})

	res := r.Execute(context.Background(), "BTCUSDT", strategy.Signal{Action: strategy.ActionBuy, Size: 0.1})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, 50000.0, res.Trade.Price)
	assert.Equal(t, 5000.0, acct.Balance().InexactFloat64())
	require.Len(t, sink.trades, 1)
	assert.Equal(t, res.Trade.ID, sink.trades[0].ID)
}

type agedPrice struct {
	price float64
	age   time.Duration
}

func (a agedPrice) GetWithAge(string) (float64, time.Duration, bool) { return a.price, a.age, true }

func TestStaleCachedPriceIsRefused(t *testing.T) {
	r, acct, _ := newRouter(t, risk.DefaultLimits(), Options{
		Prices:      agedPrice{price: 50000, age: 2 * time.Minute},
		MaxPriceAge: time.Minute,
	})

	res := r.Execute(context.Background(), "BTCUSDT", strategy.Signal{Action: strategy.ActionBuy, Size: 0.1})

	require.False(t, res.Success)
	var vErr *risk.ValidationError
	require.True(t, errors.As(res.Err, &vErr))
	assert.Equal(t, "price", vErr.Field)
	assert.Empty(t, acct.Snapshot().Positions)
	assert.Equal(t, 10000.0, acct.Balance().InexactFloat64())

	// An explicit signal price does not depend on the cache.
	res = r.Execute(context.Background(), "BTCUSDT", strategy.Signal{Action: strategy.ActionBuy, Size: 0.1, Price: 50000})
	assert.True(t, res.Success, res.Message)
}

func TestFreshCachedPriceIsUsed(t *testing.T) {
	r, _, _ := newRouter(t, risk.DefaultLimits(), Options{
		Prices:      agedPrice{price: 50000, age: time.Second},
		MaxPriceAge: time.Minute,
	})
	res := r.Execute(context.Background(), "BTCUSDT", strategy.Signal{Action: strategy.ActionBuy, Size: 0.1})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 50000.0, res.Trade.Price)
}

func TestDrawdownTripsBreaker(t *testing.T) {
	r, _, brk := newRouter(t, risk.DefaultLimits(), Options{MaxDrawdownPct: 0.1})
	ctx := context.Background()

	res := r.Execute(ctx, "BTCUSDT", strategy.Signal{Action: strategy.ActionBuy, Size: 5, Price: 1000})
	require.True(t, res.Success, res.Message)
	assert.False(t, brk.IsActive())

	r.Mark(ctx, "BTCUSDT", 950)
	assert.False(t, brk.IsActive())

	r.Mark(ctx, "BTCUSDT", 700)
	require.True(t, brk.IsActive())
	st := brk.Status()
	assert.Equal(t, "drawdown breach", st.Reason)
	assert.Equal(t, "RiskEngine", st.TriggeredBy)

	res = r.Execute(ctx, "BTCUSDT", strategy.Signal{Action: strategy.ActionBuy, Size: 1, Price: 700})
	assert.ErrorIs(t, res.Err, breaker.ErrActive)
}
