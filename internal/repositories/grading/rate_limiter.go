package grading

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// recoverAfter is the number of consecutive successful responses that
// doubles a throttled rate back toward the configured one.
const recoverAfter = 5

// RateLimiter throttles calls to the Grading Service. One limiter is shared
// by every session of the process.
type RateLimiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex

	// throttling bookkeeping, guarded by state
	state     sync.Mutex
	baseRPS   float64
	baseBurst int
	successes int
	throttled bool
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		baseRPS:   rps,
		baseBurst: burst,
	}
}

// Wait blocks until a request may proceed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limiter.Wait(ctx)
}

// UpdateLimits changes the rate at runtime.
func (rl *RateLimiter) UpdateLimits(rps float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiter.SetLimit(rate.Limit(rps))
	rl.limiter.SetBurst(burst)
}

// Throttle halves the current rate, never below floor, and drops the burst
// to 1. It returns the new rate.
func (rl *RateLimiter) Throttle(floor float64) float64 {
	rl.state.Lock()
	defer rl.state.Unlock()

	next := max(rl.Limit()/2, min(floor, rl.baseRPS))
	rl.throttled = true
	rl.successes = 0
	rl.UpdateLimits(next, 1)
	return next
}

// RecordSuccess counts a successful response. Every recoverAfter successes
// in a row double a throttled rate; the configured rate and burst come back
// once the rate reaches the configured value. It reports whether the limits
// changed.
func (rl *RateLimiter) RecordSuccess() bool {
	rl.state.Lock()
	defer rl.state.Unlock()

	if !rl.throttled {
		return false
	}
	rl.successes++
	if rl.successes < recoverAfter {
		return false
	}
	rl.successes = 0

	next := rl.Limit() * 2
	if next >= rl.baseRPS {
		rl.throttled = false
		rl.UpdateLimits(rl.baseRPS, rl.baseBurst)
		return true
	}
	rl.UpdateLimits(next, 1)
	return true
}

func (rl *RateLimiter) Limit() float64 {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return float64(rl.limiter.Limit())
}

func (rl *RateLimiter) Burst() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limiter.Burst()
}
