package account

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuyDebitsAndSellCreditsNotional(t *testing.T) {
	acct := New(10000)

	_, trade, err := acct.ApplyFill(Fill{Symbol: "BTCUSDT", Side: Buy, Size: 0.1, Price: 50000})
	require.NoError(t, err)
	assert.InDelta(t, 5000, trade.Notional, 1e-9)
	assert.True(t, acct.Balance().Equal(decimal.NewFromInt(5000)), "balance=%s", acct.Balance())

	_, _, err = acct.ApplyFill(Fill{Symbol: "ETHUSDT", Side: Sell, Size: 2, Price: 3000})
	require.NoError(t, err)
	assert.True(t, acct.Balance().Equal(decimal.NewFromInt(11000)), "balance=%s", acct.Balance())

	snap := acct.Snapshot()
	assert.Equal(t, []float64{5000, 11000}, snap.EquityHistory)
	assert.Equal(t, 2, snap.TradeCount)
}

func TestEquityHistoryTracksFills(t *testing.T) {
	acct := New(1000)
	assert.Empty(t, acct.Snapshot().EquityHistory)

	for i := 0; i < 4; i++ {
		_, _, err := acct.ApplyFill(Fill{Symbol: "SOLUSDT", Side: Buy, Size: 1, Price: 10})
		require.NoError(t, err)
	}
	assert.Len(t, acct.Snapshot().EquityHistory, 4)
	assert.Len(t, acct.Trades(), 4)
}

func TestPositionLifecycle(t *testing.T) {
	tests := []struct {
		name      string
		fills     []Fill
		wantOpen  bool
		wantSide  PositionSide
		wantSize  float64
		wantEntry float64
		wantPnL   float64 // realized pnl of the last fill
	}{
		{
			name:      "open long",
			fills:     []Fill{{Symbol: "BTCUSDT", Side: Buy, Size: 1, Price: 100}},
			wantOpen:  true,
			wantSide:  Long,
			wantSize:  1,
			wantEntry: 100,
		},
		{
			name: "add to long averages entry",
			fills: []Fill{
				{Symbol: "BTCUSDT", Side: Buy, Size: 1, Price: 100},
				{Symbol: "BTCUSDT", Side: Buy, Size: 1, Price: 200},
			},
			wantOpen:  true,
			wantSide:  Long,
			wantSize:  2,
			wantEntry: 150,
		},
		{
			name: "partial reduce books pnl",
			fills: []Fill{
				{Symbol: "BTCUSDT", Side: Buy, Size: 2, Price: 100},
				{Symbol: "BTCUSDT", Side: Sell, Size: 0.5, Price: 120},
			},
			wantOpen:  true,
			wantSide:  Long,
			wantSize:  1.5,
			wantEntry: 100,
			wantPnL:   10,
		},
		{
			name: "full close removes position",
			fills: []Fill{
				{Symbol: "BTCUSDT", Side: Sell, Size: 1, Price: 100},
				{Symbol: "BTCUSDT", Side: Buy, Size: 1, Price: 90},
			},
			wantOpen: false,
			wantPnL:  10,
		},
		{
			name: "flip long to short",
			fills: []Fill{
				{Symbol: "BTCUSDT", Side: Buy, Size: 1, Price: 100},
				{Symbol: "BTCUSDT", Side: Sell, Size: 3, Price: 110},
			},
			wantOpen:  true,
			wantSide:  Short,
			wantSize:  2,
			wantEntry: 110,
			wantPnL:   10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct := New(100000)
			var last Trade
			for _, f := range tt.fills {
				_, trade, err := acct.ApplyFill(f)
				require.NoError(t, err)
				last = trade
			}
			assert.InDelta(t, tt.wantPnL, last.RealizedPnL, 1e-9)

			pos, ok := acct.Snapshot().Position("BTCUSDT")
			require.Equal(t, tt.wantOpen, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantSide, pos.Side)
			assert.InDelta(t, tt.wantSize, pos.Size, 1e-9)
			assert.InDelta(t, tt.wantEntry, pos.EntryPrice, 1e-9)
		})
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	acct := New(1000)
	_, _, err := acct.ApplyFill(Fill{Symbol: "BTCUSDT", Side: Buy, Size: 1, Price: 100})
	require.NoError(t, err)

	snap := acct.Snapshot()
	snap.Positions[0].Size = 42
	snap.EquityHistory[0] = -1

	again := acct.Snapshot()
	assert.Equal(t, 1.0, again.Positions[0].Size)
	assert.Equal(t, 900.0, again.EquityHistory[0])

	_, _, err = acct.ApplyFill(Fill{Symbol: "ETHUSDT", Side: Buy, Size: 1, Price: 10})
	require.NoError(t, err)
	assert.Len(t, snap.Positions, 1)
	assert.Len(t, snap.EquityHistory, 1)
}

func TestMarkRevaluesPosition(t *testing.T) {
	acct := New(1000)
	_, _, err := acct.ApplyFill(Fill{Symbol: "BTCUSDT", Side: Sell, Size: 2, Price: 100})
	require.NoError(t, err)

	assert.True(t, acct.Mark("BTCUSDT", 90))
	assert.False(t, acct.Mark("ETHUSDT", 90))

	snap := acct.Snapshot()
	pos, _ := snap.Position("BTCUSDT")
	assert.InDelta(t, 20, pos.PnL, 1e-9)
	// cash 1200, short 2 marked at 90
	assert.InDelta(t, 1020, snap.Equity(), 1e-9)
}

func TestApplyFillRejectsBadInput(t *testing.T) {
	acct := New(1000)
	bad := []Fill{
		{Side: Buy, Size: 1, Price: 1},
		{Symbol: "BTCUSDT", Side: "HOLD", Size: 1, Price: 1},
		{Symbol: "BTCUSDT", Side: Buy, Size: 0, Price: 1},
		{Symbol: "BTCUSDT", Side: Buy, Size: 1, Price: -1},
	}
	for _, f := range bad {
		_, _, err := acct.ApplyFill(f)
		assert.ErrorIs(t, err, ErrInvalidFill)
	}
	assert.Empty(t, acct.Snapshot().EquityHistory)
	assert.True(t, acct.Balance().Equal(decimal.NewFromInt(1000)))
}

func TestConcurrentSnapshotsDuringFills(t *testing.T) {
	acct := New(1000000)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _, _ = acct.ApplyFill(Fill{Symbol: "BTCUSDT", Side: Buy, Size: 0.01, Price: 100})
		}
	}()
	for i := 0; i < 200; i++ {
		snap := acct.Snapshot()
		assert.Equal(t, snap.TradeCount, len(snap.EquityHistory))
	}
	wg.Wait()
	assert.Len(t, acct.Snapshot().EquityHistory, 200)
}
