package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig controls how a failed model call is retried.
type RetryConfig struct {
	// MaxAttempts counts the first call; 2 means one retry.
	MaxAttempts int
	// BackoffBase is the wait before the first retry.
	BackoffBase time.Duration
	// BackoffMultiplier grows the wait on each further retry.
	BackoffMultiplier float64
	// MaxBackoff caps the wait.
	MaxBackoff time.Duration
}

// DefaultRetryConfig is one retry after roughly a second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * time.Second,
	}
}

// backoff returns the wait before retry number attempt (1-based), with up
// to 20% jitter.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.BackoffBase)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffMultiplier
	}
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	if d > 0 {
		d += d * 0.2 * rand.Float64() //nolint:gosec // jitter only
	}
	return time.Duration(d)
}

// RetryingProvider retries transient and unclassified failures of the
// wrapped provider with backoff. Fatal errors return immediately. Once
// attempts are exhausted the error wraps ErrModelFailure.
type RetryingProvider struct {
	Provider
	cfg   RetryConfig
	sleep func(context.Context, time.Duration) error
}

// WithRetry wraps p.
func WithRetry(p Provider, cfg RetryConfig) *RetryingProvider {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryingProvider{Provider: p, cfg: cfg, sleep: sleepCtx}
}

// Generate implements Provider.
func (r *RetryingProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		resp, err := r.Provider.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if IsFatal(err) || errors.Is(err, context.Canceled) || attempt == r.cfg.MaxAttempts {
			break
		}

		wait := r.cfg.backoff(attempt)
		log.Warn().Err(err).
			Str("provider", r.Name()).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("llm_call_retrying")
		if err := r.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrModelFailure, r.Name(), lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
