// Package cache is the in-memory TTL memoization store for aggregated
// analytics results. It is single-process by design: results are cheap to
// recompute relative to a shared cache's operational cost, and nothing
// outside this process reads them.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultTTL is applied when Set is called with a non-positive TTL.
const DefaultTTL = 15 * time.Minute

// Key identifies one memoized analytics result. Params carries the request
// parameters (date range, mode, group-by, limit) that the named fields do
// not cover. SchemaVersion must be bumped whenever the shape of the cached
// value changes, so stale-shaped entries read as misses.
type Key struct {
	Project       string
	Family        string
	Org           string
	Event         string
	Params        string
	SchemaVersion int
}

// String renders the key deterministically.
func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|v%d",
		k.Project, k.Family, k.Org, k.Event, k.Params, k.SchemaVersion)
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a mutex-guarded TTL key/value store. An entry whose expiry has
// passed is treated as absent by every reader before it is physically
// removed; Sweep only affects memory footprint, never correctness.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   quartz.Clock
	ttl     time.Duration

	hitMiss *prometheus.CounterVec // label "result" ("hit"/"miss"), may be nil
	size    prometheus.Gauge       // may be nil
}

// New creates a Cache. A nil clock falls back to real time; a non-positive
// ttl falls back to DefaultTTL. hitMiss and size are optional collectors,
// passed explicitly like the base store's cache counter.
func New(clock quartz.Clock, ttl time.Duration, hitMiss *prometheus.CounterVec, size prometheus.Gauge) *Cache {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		clock:   clock,
		ttl:     ttl,
		hitMiss: hitMiss,
		size:    size,
	}
}

// DefaultTTLValue returns the TTL applied when Set receives no explicit TTL.
func (c *Cache) DefaultTTLValue() time.Duration { return c.ttl }

// Get returns the stored value if present and not yet expired. An expired
// entry is deleted lazily and reported as absent.
func (c *Cache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key.String()
	e, ok := c.entries[k]
	if !ok {
		c.record("miss")
		return nil, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, k)
		c.setSize()
		c.record("miss")
		return nil, false
	}
	c.record("hit")
	return e.value, true
}

// Set stores value under key with expiry now + ttl, overwriting any existing
// entry. A non-positive ttl uses the cache default.
func (c *Cache) Set(key Key, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key.String()] = entry{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
	c.setSize()
}

// Clear removes every entry. It doubles as the explicit reset operation for
// tests and ops.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
	c.setSize()
}

// Sweep removes every entry whose expiry has passed and returns the number
// removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	c.setSize()
	return removed
}

// Len reports the number of physically stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) record(result string) {
	if c.hitMiss != nil {
		c.hitMiss.WithLabelValues(result).Inc()
	}
}

func (c *Cache) setSize() {
	if c.size != nil {
		c.size.Set(float64(len(c.entries)))
	}
}
