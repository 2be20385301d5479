package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a global and a per-user token bucket on questions.
type RateLimiter struct {
	mu      sync.Mutex
	global  *rate.Limiter
	users   map[string]*rate.Limiter
	perUser rate.Limit
	burst   int
}

// NewRateLimiter allows each user rps requests per second with the given
// burst. The global bucket admits ten users' worth.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		global:  rate.NewLimiter(rate.Limit(rps*10), burst*10),
		users:   make(map[string]*rate.Limiter),
		perUser: rate.Limit(rps),
		burst:   burst,
	}
}

// Allow reports whether userID may make a request now.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	limiter, ok := rl.users[userID]
	if !ok {
		limiter = rate.NewLimiter(rl.perUser, rl.burst)
		rl.users[userID] = limiter
	}
	rl.mu.Unlock()
	if !limiter.Allow() {
		return false
	}
	return rl.global.Allow()
}
