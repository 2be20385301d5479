package sources

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is the breaker state of one provider.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // calls flow through
	CircuitOpen                         // calls skipped, soft-fail path taken
	CircuitHalfOpen                     // one probe call allowed
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker counts provider failures per source id and opens the circuit when
// threshold failures land within window. An open circuit stays open for one
// window, then admits a single probe.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	window    time.Duration
	now       func() time.Time
}

type circuit struct {
	failures      []time.Time
	state         CircuitState
	openedAt      time.Time
	probeInFlight bool
}

// NewBreaker creates a breaker. threshold defaults to 5, window to 60s.
func NewBreaker(threshold int, window time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// WithClock replaces the breaker clock, for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Check returns nil when sourceID may be called, or an error wrapping
// ErrCircuitOpen.
func (b *Breaker) Check(sourceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[sourceID]
	if !ok {
		return nil
	}
	switch c.state {
	case CircuitOpen:
		if b.now().Sub(c.openedAt) > b.window {
			c.state = CircuitHalfOpen
			c.probeInFlight = true
			return nil
		}
		return fmt.Errorf("%s: %w", sourceID, ErrCircuitOpen)
	case CircuitHalfOpen:
		if c.probeInFlight {
			return fmt.Errorf("%s: probe in progress: %w", sourceID, ErrCircuitOpen)
		}
		c.probeInFlight = true
	}
	return nil
}

// RecordFailure notes a failed call. A failed half-open probe reopens the
// circuit at once.
func (b *Breaker) RecordFailure(sourceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[sourceID]
	if !ok {
		c = &circuit{}
		b.circuits[sourceID] = c
	}
	now := b.now()

	if c.state == CircuitHalfOpen {
		c.state = CircuitOpen
		c.openedAt = now
		c.probeInFlight = false
		return
	}

	cutoff := now.Add(-b.window)
	kept := c.failures[:0]
	for _, t := range c.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.failures = append(kept, now)
	if len(c.failures) >= b.threshold {
		c.state = CircuitOpen
		c.openedAt = now
	}
}

// RecordSuccess closes a half-open circuit and clears the failure history.
func (b *Breaker) RecordSuccess(sourceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[sourceID]; ok {
		c.state = CircuitClosed
		c.failures = nil
		c.probeInFlight = false
	}
}

// Reset forgets sourceID (operator override).
func (b *Breaker) Reset(sourceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.circuits, sourceID)
}

// State returns the circuit state of sourceID.
func (b *Breaker) State(sourceID string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[sourceID]; ok {
		return c.state
	}
	return CircuitClosed
}
