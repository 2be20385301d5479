package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTTLCache_HitWithinTTL(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	c := New[string](WithClock(clk.Now))
	ctx := context.Background()

	c.Set("economic_indicators", "cpi=3.1", time.Minute)
	v, ok := c.Get(ctx, "economic_indicators")
	require.True(t, ok)
	assert.Equal(t, "cpi=3.1", v)

	clk.Advance(59 * time.Second)
	_, ok = c.Get(ctx, "economic_indicators")
	assert.True(t, ok)
}

func TestTTLCache_ExpiredNotServed(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	c := New[int](WithClock(clk.Now))
	ctx := context.Background()

	c.Set("k", 42, time.Minute)
	clk.Advance(time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok, "entry at exactly TTL is stale")

	last, ok := c.Last("k")
	require.True(t, ok, "stale entry remains available as fallback")
	assert.Equal(t, 42, last.Value)
	assert.Equal(t, time.Minute, last.Age(clk.Now()))
}

func TestTTLCache_ZeroTTLNeverFresh(t *testing.T) {
	c := New[int]()
	c.Set("k", 1, 0)
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestTTLCache_InvalidateAndPurge(t *testing.T) {
	c := New[int]()
	ctx := context.Background()
	c.Set("a", 1, time.Hour)
	c.Set("b", 2, time.Hour)

	c.Invalidate("a")
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = c.Last("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Snapshot())
}

func TestTTLCache_OverwriteReplacesEntry(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := New[string](WithClock(clk.Now))
	c.Set("k", "old", time.Second)
	clk.Advance(2 * time.Second)
	e := c.Set("k", "new", time.Second)

	assert.Equal(t, clk.Now(), e.FetchedAt)
	v, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestTTLCache_ConcurrentAccess(t *testing.T) {
	c := New[int]()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.Set("shared", i, time.Minute)
		}(i)
		go func() {
			defer wg.Done()
			_, _ = c.Get(ctx, "shared")
		}()
	}
	wg.Wait()
	_, ok := c.Get(ctx, "shared")
	assert.True(t, ok)
}

func TestTTLCache_BoundedEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int](WithMaxEntries(3))
	ctx := context.Background()
	assert.Equal(t, 3, c.Cap())

	c.Set("q0", 0, time.Millisecond)
	c.Set("q1", 1, time.Millisecond)
	c.Set("q2", 2, time.Millisecond)
	_, _ = c.Get(ctx, "q0")
	c.Set("q3", 3, time.Millisecond)
	c.Set("q4", 4, time.Millisecond)

	assert.Equal(t, 3, c.Len())
	_, ok := c.Last("q0")
	assert.True(t, ok, "recently read entry survives")
	_, ok = c.Last("q1")
	assert.False(t, ok)
	_, ok = c.Last("q2")
	assert.False(t, ok)
}

func TestTTLCache_DistinctKeysStayBounded(t *testing.T) {
	c := New[int](WithMaxEntries(64))
	for i := 0; i < 500; i++ {
		c.Set(fmt.Sprintf("web_search:query %d", i), i, time.Millisecond)
	}
	assert.Equal(t, 64, c.Len())
	assert.Len(t, c.Snapshot(), 64)
}

func TestTTLCache_DefaultCap(t *testing.T) {
	assert.Equal(t, DefaultMaxEntries, New[int]().Cap())
	assert.Equal(t, DefaultMaxEntries, New[int](WithMaxEntries(0)).Cap())
}

func TestTTLCache_InvalidatePrefix(t *testing.T) {
	c := New[int]()
	c.Set("web_search:chase rates", 1, time.Hour)
	c.Set("web_search:ally rates", 2, time.Hour)
	c.Set("economic_indicators", 3, time.Hour)

	assert.Equal(t, 2, c.InvalidatePrefix("web_search:"))
	assert.Equal(t, 1, c.Len())
	_, ok := c.Last("economic_indicators")
	assert.True(t, ok)
}
