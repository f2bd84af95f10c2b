package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// StaleAfter is the age beyond which a quote no longer represents the
// market.
const StaleAfter = 10 * time.Second

// Quote is the last observed top of book for one instrument.
type Quote struct {
	Bid  float64   `json:"bid"`
	Ask  float64   `json:"ask"`
	Mid  float64   `json:"mid"`
	Time time.Time `json:"time"`
}

// Stale reports whether the quote is older than StaleAfter.
func (q Quote) Stale() bool {
	return time.Since(q.Time) > StaleAfter
}

// QuoteCache is a sharded last-quote store keyed by instrument. Feeds write
// into it on every tick; readers never contend with writers on other shards.
type QuoteCache struct {
	shards [numShards]*quoteShard
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]Quote
}

// NewQuoteCache creates an empty quote cache.
func NewQuoteCache() *QuoteCache {
	c := &QuoteCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{items: make(map[string]Quote)}
	}
	return c
}

func (c *QuoteCache) getShard(instrument string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(instrument))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the latest quote for an instrument.
func (c *QuoteCache) Set(instrument string, q Quote) {
	shard := c.getShard(instrument)
	shard.mu.Lock()
	shard.items[instrument] = q
	shard.mu.Unlock()
}

// Get retrieves the latest quote for an instrument.
func (c *QuoteCache) Get(instrument string) (Quote, bool) {
	shard := c.getShard(instrument)
	shard.mu.RLock()
	q, ok := shard.items[instrument]
	shard.mu.RUnlock()
	return q, ok
}

// GetWithAge retrieves a quote and how stale it is.
func (c *QuoteCache) GetWithAge(instrument string) (Quote, time.Duration, bool) {
	q, ok := c.Get(instrument)
	if !ok {
		return Quote{}, 0, false
	}
	return q, time.Since(q.Time), true
}

// Len returns total instruments across all shards.
func (c *QuoteCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Evict removes quotes older than maxAge and reports how many were dropped.
func (c *QuoteCache) Evict(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)

	for _, shard := range c.shards {
		shard.mu.Lock()
		for inst, q := range shard.items {
			if q.Time.Before(cutoff) {
				delete(shard.items, inst)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Snapshot returns all cached quotes.
func (c *QuoteCache) Snapshot() map[string]Quote {
	result := make(map[string]Quote)
	for _, shard := range c.shards {
		shard.mu.RLock()
		for inst, q := range shard.items {
			result[inst] = q
		}
		shard.mu.RUnlock()
	}
	return result
}
