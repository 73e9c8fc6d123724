package registry

import (
	"sync"
	"time"

	"github.com/permaskills/skills/internal/clock"
)

// DefaultCacheTTL is how long read results stay fresh.
const DefaultCacheTTL = 5 * time.Minute

// Cache holds read results for one client. Expired entries are evicted
// when they are read. NotFound results are cached like successes.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result  Result
	expires time.Time
}

// NewCache creates a cache. A nil clock uses real time; a ttl <= 0
// disables caching.
func NewCache(ttl time.Duration, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{ttl: ttl, clock: clk, entries: make(map[string]cacheEntry)}
}

// Get returns a fresh entry for key.
func (c *Cache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if !c.clock.Now().Before(e.expires) {
		delete(c.entries, key)
		return Result{}, false
	}
	return e.result, true
}

// Put stores result under key. Failures are never stored.
func (c *Cache) Put(key string, result Result) {
	if c.ttl <= 0 || result.Kind == ResultFailure {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result, expires: c.clock.Now().Add(c.ttl)}
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
