// Package cache is the short-TTL query cache in front of the store. Entries
// carry an absolute expiry; reads past it miss, and a background cleanup
// pass evicts what reads never touch. Keys follow "<class>:...:<symbol>" so
// a symbol can be invalidated across every class at once.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Per-class TTLs. Quotes churn fastest, candle history slowest.
const (
	TTLQuote      = 5 * time.Second
	TTLIndicators = 60 * time.Second
	TTLCandles    = 300 * time.Second
	TTLStrategy   = 30 * time.Second
)

// Key builders. All keys end in ":<symbol>" so Invalidate can match them.
func QuoteKey(symbol string) string             { return "quote:" + symbol }
func IndicatorKey(symbol string) string         { return "ind:" + symbol }
func CandleKey(timeframe, symbol string) string { return "candles:" + timeframe + ":" + symbol }
func StrategyKey(name, symbol string) string    { return "strat:" + name + ":" + symbol }
func ComprehensiveKey(symbol string) string     { return "comp:" + symbol }

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Cache is a TTL map safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// Get returns the cached value, or (nil, false) when absent or expired.
// An expired entry is evicted in place so it stops counting as active.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	now := c.now()
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: a Set may have refreshed the key.
		if cur, still := c.entries[key]; still && !now.Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key with an absolute expiry of now+ttl.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// GetMany returns the cached values among keys, plus the keys that missed,
// preserving their input order.
func (c *Cache) GetMany(keys []string) (map[string]interface{}, []string) {
	found := make(map[string]interface{}, len(keys))
	var missing []string
	for _, k := range keys {
		if v, ok := c.Get(k); ok {
			found[k] = v
		} else {
			missing = append(missing, k)
		}
	}
	return found, missing
}

// GetManyFetch serves keys from the cache and resolves all misses with a
// single call to fetch. Fetched values are cached with ttl; keys fetch does
// not return stay absent from the result (absence is not cached).
func (c *Cache) GetManyFetch(keys []string, ttl time.Duration, fetch func(missing []string) (map[string]interface{}, error)) (map[string]interface{}, error) {
	found, missing := c.GetMany(keys)
	if len(missing) == 0 {
		return found, nil
	}

	fetched, err := fetch(missing)
	if err != nil {
		return found, err
	}
	for k, v := range fetched {
		c.Set(k, v, ttl)
		found[k] = v
	}
	return found, nil
}

// Invalidate removes every entry for symbol across all key classes.
func (c *Cache) Invalidate(symbol string) {
	suffix := ":" + symbol
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if len(k) >= len(suffix) && k[len(k)-len(suffix):] == suffix {
			delete(c.entries, k)
		}
	}
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// cleanup deletes expired entries and returns how many it removed.
func (c *Cache) cleanup() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// RunCleanup evicts expired entries on the given interval until ctx is
// cancelled.
func (c *Cache) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// Stats reports hits, misses, and the count of live (unexpired) entries.
// Expired entries awaiting cleanup are not active and do not count.
func (c *Cache) Stats() (hits, misses uint64, size int) {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			size++
		}
	}
	return c.hits.Load(), c.misses.Load(), size
}
