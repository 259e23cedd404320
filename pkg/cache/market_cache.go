// Package cache holds the latest market state per symbol, written by price
// update jobs and read by strategies and the execution router.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Tick is one market observation.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Volume    float64   `json:"volume,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MarketCache is a sharded last-tick cache.
type MarketCache struct {
	shards [numShards]*shard
	now    func() time.Time
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

type entry struct {
	tick      Tick
	updatedAt time.Time
}

func NewMarketCache() *MarketCache {
	c := &MarketCache{now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard{items: make(map[string]entry)}
	}
	return c
}

func (c *MarketCache) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Apply stores t unless a newer tick for the symbol is already cached.
// Redelivered or out-of-order updates are ignored and Apply returns false.
func (c *MarketCache) Apply(t Tick) bool {
	now := c.now()
	if t.Timestamp.IsZero() {
		t.Timestamp = now
	}
	s := c.shardFor(t.Symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.items[t.Symbol]; ok && t.Timestamp.Before(cur.tick.Timestamp) {
		return false
	}
	s.items[t.Symbol] = entry{tick: t, updatedAt: now}
	return true
}

// Set stores a bare price stamped now.
func (c *MarketCache) Set(symbol string, price float64) {
	c.Apply(Tick{Symbol: symbol, Price: price})
}

// Get returns the last price for symbol.
func (c *MarketCache) Get(symbol string) (float64, bool) {
	t, ok := c.Tick(symbol)
	return t.Price, ok
}

// Tick returns the last tick for symbol.
func (c *MarketCache) Tick(symbol string) (Tick, bool) {
	s := c.shardFor(symbol)
	s.mu.RLock()
	e, ok := s.items[symbol]
	s.mu.RUnlock()
	return e.tick, ok
}

// GetWithAge returns the price and how long ago it was written.
func (c *MarketCache) GetWithAge(symbol string) (float64, time.Duration, bool) {
	s := c.shardFor(symbol)
	s.mu.RLock()
	e, ok := s.items[symbol]
	s.mu.RUnlock()
	if !ok {
		return 0, 0, false
	}
	return e.tick.Price, c.now().Sub(e.updatedAt), true
}

// Len returns total items across all shards.
func (c *MarketCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries not written within maxAge.
func (c *MarketCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := c.now().Add(-maxAge)
	for _, s := range c.shards {
		s.mu.Lock()
		for sym, e := range s.items {
			if e.updatedAt.Before(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// All returns every cached price (for the ops API).
func (c *MarketCache) All() map[string]float64 {
	out := make(map[string]float64)
	for _, s := range c.shards {
		s.mu.RLock()
		for sym, e := range s.items {
			out[sym] = e.tick.Price
		}
		s.mu.RUnlock()
	}
	return out
}
