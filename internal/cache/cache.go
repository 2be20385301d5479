// Package cache provides the TTL cache shared by all requests for external
// source results. Entries are keyed by source id (plus the normalized query
// for search), never by user, because upstream market and economic data is
// the same for everyone.
package cache

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is a cached value with its freshness metadata.
type Entry[V any] struct {
	Key       string
	Value     V
	FetchedAt time.Time
	TTL       time.Duration
}

// ExpiresAt returns the instant after which the entry is stale.
func (e Entry[V]) ExpiresAt() time.Time {
	return e.FetchedAt.Add(e.TTL)
}

// FreshAt reports whether the entry may be served at now.
func (e Entry[V]) FreshAt(now time.Time) bool {
	return e.TTL > 0 && now.Before(e.ExpiresAt())
}

// Age returns how old the entry is at now.
func (e Entry[V]) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// DefaultMaxEntries bounds a cache created without WithMaxEntries.
const DefaultMaxEntries = 1024

// TTLCache is a concurrency-safe, size-bounded map of entries with per-entry
// TTL. When full, the least recently used entry is evicted, fresh or not.
// Concurrent refreshes of one key simply overwrite each other; the last
// writer wins and every writer's value is equally valid.
type TTLCache[V any] struct {
	entries *lru.Cache[string, Entry[V]]
	now     func() time.Time
	name    string
	max     int
}

// Option configures a TTLCache.
type Option func(*options)

type options struct {
	now  func() time.Time
	name string
	max  int
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithName labels the cache in metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithMaxEntries caps the number of stored entries. Values below 1 keep the
// default.
func WithMaxEntries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.max = n
		}
	}
}

// New creates an empty cache.
func New[V any](opts ...Option) *TTLCache[V] {
	o := options{now: time.Now, name: "default", max: DefaultMaxEntries}
	for _, fn := range opts {
		fn(&o)
	}
	// lru.New only fails for a non-positive size, which options rule out.
	entries, _ := lru.New[string, Entry[V]](o.max)
	return &TTLCache[V]{
		entries: entries,
		now:     o.now,
		name:    o.name,
		max:     o.max,
	}
}

// Get returns the value for key if present and within TTL.
func (c *TTLCache[V]) Get(ctx context.Context, key string) (V, bool) {
	e, ok := c.entries.Get(key)
	if ok && e.FreshAt(c.now()) {
		recordLookup(ctx, c.name, key, "hit")
		return e.Value, true
	}
	outcome := "miss"
	if ok {
		outcome = "expired"
	}
	recordLookup(ctx, c.name, key, outcome)
	var zero V
	return zero, false
}

// Last returns the most recent entry for key regardless of TTL. Callers use
// it only as a soft-fail fallback when a refresh fails.
func (c *TTLCache[V]) Last(key string) (Entry[V], bool) {
	return c.entries.Peek(key)
}

// Set stores value under key with the given TTL, replacing any prior entry.
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) Entry[V] {
	e := Entry[V]{Key: key, Value: value, FetchedAt: c.now(), TTL: ttl}
	if evicted := c.entries.Add(key, e); evicted {
		recordEviction(c.name)
	}
	return e
}

// Invalidate removes key so the next Get misses.
func (c *TTLCache[V]) Invalidate(key string) {
	c.entries.Remove(key)
}

// InvalidatePrefix removes every key starting with prefix and returns how
// many were dropped.
func (c *TTLCache[V]) InvalidatePrefix(prefix string) int {
	n := 0
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) && c.entries.Remove(k) {
			n++
		}
	}
	return n
}

// Purge removes every entry.
func (c *TTLCache[V]) Purge() {
	c.entries.Purge()
}

// Len returns the number of stored entries, fresh or not.
func (c *TTLCache[V]) Len() int {
	return c.entries.Len()
}

// Cap returns the maximum number of entries.
func (c *TTLCache[V]) Cap() int {
	return c.max
}

// Snapshot returns a copy of every entry, least recently used first.
func (c *TTLCache[V]) Snapshot() []Entry[V] {
	return c.entries.Values()
}

// Now exposes the cache clock so callers can judge freshness consistently.
func (c *TTLCache[V]) Now() time.Time {
	return c.now()
}
