package sources

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time          { return c.t }
func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*Breaker, *stepClock) {
	clk := &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewBreaker(threshold, time.Minute).WithClock(clk.now), clk
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure("live_market_data")
	b.RecordFailure("live_market_data")
	assert.NoError(t, b.Check("live_market_data"), "under threshold stays closed")

	b.RecordFailure("live_market_data")
	err := b.Check("live_market_data")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, CircuitOpen, b.State("live_market_data"))

	assert.NoError(t, b.Check("economic_indicators"), "other providers unaffected")
}

func TestBreaker_FailuresOutsideWindowExpire(t *testing.T) {
	b, clk := newTestBreaker(2)

	b.RecordFailure("web_search")
	clk.advance(2 * time.Minute)
	b.RecordFailure("web_search")
	assert.Equal(t, CircuitClosed, b.State("web_search"))
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clk := newTestBreaker(1)
	b.RecordFailure("web_search")
	require.Error(t, b.Check("web_search"))

	clk.advance(61 * time.Second)
	require.NoError(t, b.Check("web_search"), "first call after window is the probe")
	assert.Equal(t, CircuitHalfOpen, b.State("web_search"))
	assert.Error(t, b.Check("web_search"), "second concurrent probe rejected")

	b.RecordSuccess("web_search")
	assert.Equal(t, CircuitClosed, b.State("web_search"))
	assert.NoError(t, b.Check("web_search"))
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clk := newTestBreaker(1)
	b.RecordFailure("web_search")
	clk.advance(61 * time.Second)
	require.NoError(t, b.Check("web_search"))

	b.RecordFailure("web_search")
	assert.Equal(t, CircuitOpen, b.State("web_search"))
	assert.Error(t, b.Check("web_search"))
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(1)
	b.RecordFailure("web_search")
	b.Reset("web_search")
	assert.Equal(t, CircuitClosed, b.State("web_search"))
	assert.Equal(t, "closed", b.State("web_search").String())
}
