package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c := NewMarketCache()
	_, ok := c.Get("BTCUSDT")
	assert.False(t, ok)

	c.Set("BTCUSDT", 60000)
	price, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 60000.0, price)
	assert.Equal(t, 1, c.Len())
}

func TestApplyIgnoresOlderTicks(t *testing.T) {
	c := NewMarketCache()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, c.Apply(Tick{Symbol: "ETHUSDT", Price: 3000, Timestamp: base}))
	assert.False(t, c.Apply(Tick{Symbol: "ETHUSDT", Price: 2900, Timestamp: base.Add(-time.Second)}))
	assert.True(t, c.Apply(Tick{Symbol: "ETHUSDT", Price: 3000, Timestamp: base}), "same tick redelivered")

	tick, ok := c.Tick("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 3000.0, tick.Price)
}

func TestCleanupAndAge(t *testing.T) {
	c := NewMarketCache()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	c.Set("OLD", 1)
	clock = clock.Add(time.Minute)
	c.Set("NEW", 2)

	_, age, ok := c.GetWithAge("OLD")
	require.True(t, ok)
	assert.Equal(t, time.Minute, age)

	assert.Equal(t, 1, c.Cleanup(30*time.Second))
	assert.Equal(t, map[string]float64{"NEW": 2}, c.All())
}

func TestConcurrentWriters(t *testing.T) {
	c := NewMarketCache()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Set(fmt.Sprintf("SYM%d", j), float64(i))
				c.Get(fmt.Sprintf("SYM%d", i))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}
