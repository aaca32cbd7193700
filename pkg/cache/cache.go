// Package cache implements a TTL cache with single-flight coalescing: at
// most one loader invocation in flight per key, a failed load never
// populates the entry map, and changing the TTL invalidates all current
// entries.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry is a resolved, possibly-expired cache value.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a generic keyed TTL store with per-key single-flight
// coalescing for the in-flight side.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	group   *singleflight.Group

	ttl      time.Duration
	sweepInt time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config configures default TTL and sweep cadence.
type Config struct {
	TTL              time.Duration
	SweepInterval    time.Duration
	DisableAutoSweep bool
}

const (
	defaultTTL           = 500 * time.Millisecond
	defaultSweepInterval = 30 * time.Second
)

// New builds a Cache and starts its sweep loop (unless DisableAutoSweep).
func New[V any](cfg Config) *Cache[V] {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	c := &Cache[V]{
		entries:  make(map[string]entry[V]),
		group:    &singleflight.Group{},
		ttl:      cfg.TTL,
		sweepInt: cfg.SweepInterval,
		stop:     make(chan struct{}),
	}
	if !cfg.DisableAutoSweep {
		c.wg.Add(1)
		go c.sweepLoop()
	}
	return c
}

// Get returns the unexpired cached value for key if present; otherwise it
// runs loader, with single-flight coalescing across concurrent callers for
// the same key, and caches the result for ttl (or the Cache's default)
// only on success.
func (c *Cache[V]) Get(ctx context.Context, key string, loader func(context.Context) (V, error), ttl time.Duration) (V, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.RLock()
	group := c.group
	c.mu.RUnlock()

	result, err, _ := group.Do(key, func() (any, error) {
		// Re-check under the group: another goroutine may have populated
		// the entry between our lookup and winning the singleflight race.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := loader(ctx)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		// A ttl change via Configure since this load began replaced the
		// group; the result still reaches its callers but is not cached.
		if c.group == group {
			c.entries[key] = entry[V]{value: v, expiresAt: time.Now().Add(ttl)}
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return e.value, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.value, true
}

// Configure updates ttl and/or the sweep interval. Changing ttl invalidates
// every current entry, cached and in-flight; changing only the sweep
// interval does not. The sweep loop reads its interval once when it starts,
// so a changed sweep interval does not alter the running loop's cadence.
func (c *Cache[V]) Configure(ttl, sweepInterval time.Duration) {
	if ttl > 0 && ttl != c.ttl {
		c.mu.Lock()
		c.ttl = ttl
		c.entries = make(map[string]entry[V])
		// A fresh Group means new Get calls no longer join calls started
		// under the old ttl regime.
		c.group = &singleflight.Group{}
		c.mu.Unlock()
	}
	if sweepInterval > 0 {
		c.sweepInt = sweepInterval
	}
}

// Dispose stops the sweep loop and drops all entries.
func (c *Cache[V]) Dispose() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

func (c *Cache[V]) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepInt)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache[V]) sweep() {
	now := time.Now()
	c.mu.Lock()
	for k, e := range c.entries {
		if !now.After(e.expiresAt) {
			continue
		}
		delete(c.entries, k)
	}
	c.mu.Unlock()
}
