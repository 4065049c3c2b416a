// Package ratelimit paces calls to the decision provider.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by every caller of one provider.
type Limiter struct {
	mu           sync.RWMutex
	limiter      *rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int

	waits atomic.Int64
}

// NewLimiter creates a limiter. A non-positive rate disables pacing.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Limiter{
		limiter:      rate.NewLimiter(limit, burst),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// Wait blocks until a call is allowed or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	l.waits.Add(1)
	return l.limiter.Wait(ctx)
}

// Allow reports whether a call may go out now without blocking.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// SetRate updates the limit.
func (l *Limiter) SetRate(requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter.SetLimit(rate.Limit(requestsPerSecond))
	l.limiter.SetBurst(burst)
	l.defaultRate = rate.Limit(requestsPerSecond)
	l.defaultBurst = burst
}

// Stats returns limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LimiterStats{
		Rate:  float64(l.defaultRate),
		Burst: l.defaultBurst,
		Waits: l.waits.Load(),
	}
}

// LimiterStats contains limiter statistics.
type LimiterStats struct {
	Rate  float64 `json:"rate"`
	Burst int     `json:"burst"`
	Waits int64   `json:"waits"`
}

// AdaptiveLimiter slows down when the provider answers 429 and recovers
// after a run of successes.
type AdaptiveLimiter struct {
	*Limiter
	mu           sync.Mutex
	minRate      float64
	maxRate      float64
	currentRate  float64
	successCount int
	recoverAfter int
	throttled    int
}

// NewAdaptiveLimiter creates an adaptive limiter starting at maxRate.
func NewAdaptiveLimiter(minRate, maxRate float64, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		Limiter:      NewLimiter(maxRate, burst),
		minRate:      minRate,
		maxRate:      maxRate,
		currentRate:  maxRate,
		recoverAfter: 5,
	}
}

// RecordSuccess counts a successful call and speeds up after a streak.
func (a *AdaptiveLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	if a.successCount < a.recoverAfter || a.currentRate >= a.maxRate {
		return
	}
	a.successCount = 0
	a.currentRate *= 1.5
	if a.currentRate > a.maxRate {
		a.currentRate = a.maxRate
	}
	a.SetRate(a.currentRate, a.defaultBurst)
}

// RecordThrottled halves the rate, never below minRate.
func (a *AdaptiveLimiter) RecordThrottled() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.throttled++
	a.successCount = 0
	a.currentRate /= 2
	if a.currentRate < a.minRate {
		a.currentRate = a.minRate
	}
	a.SetRate(a.currentRate, a.defaultBurst)
}

// CurrentRate returns the current rate.
func (a *AdaptiveLimiter) CurrentRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// Throttled returns how many 429s have been recorded.
func (a *AdaptiveLimiter) Throttled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.throttled
}
