// Package cache memoizes slow external reads (host telemetry, interface
// lists) for a fixed time-to-live.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// TTL caches values of type T per key for a fixed duration. Errors are never
// cached; concurrent misses on the same key share one load.
type TTL[T any] struct {
	ttl   time.Duration
	store *gocache.Cache
	group singleflight.Group
}

/*
New creates a TTL cache.
- entries live for ttl
- expired entries are swept every 2*ttl
- ttl <= 0 disables caching: every Get loads (concurrent loads still share)
*/
func New[T any](ttl time.Duration) *TTL[T] {
	if ttl <= 0 {
		// go-cache reads a zero default expiration as "never expire"
		return &TTL[T]{ttl: 0, store: gocache.New(gocache.NoExpiration, 0)}
	}
	return &TTL[T]{
		ttl:   ttl,
		store: gocache.New(ttl, 2*ttl),
	}
}

func (c *TTL[T]) disabled() bool { return c.ttl <= 0 }

// TTL returns the configured lifetime.
func (c *TTL[T]) TTL() time.Duration { return c.ttl }

// Get returns the cached value for key, or calls load and caches its result.
func (c *TTL[T]) Get(key string, load func() (T, error)) (T, error) {
	if v, ok := c.Peek(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Peek(key); ok {
			return v, nil
		}
		fresh, err := load()
		if err != nil {
			return nil, err
		}
		if !c.disabled() {
			c.store.Set(key, fresh, gocache.DefaultExpiration)
		}
		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Peek returns the cached value without loading.
func (c *TTL[T]) Peek(key string) (T, bool) {
	if c.disabled() {
		var zero T
		return zero, false
	}
	if v, ok := c.store.Get(key); ok {
		return v.(T), true
	}
	var zero T
	return zero, false
}

// Invalidate drops key.
func (c *TTL[T]) Invalidate(key string) {
	c.store.Delete(key)
}

// Flush drops every entry.
func (c *TTL[T]) Flush() {
	c.store.Flush()
}
