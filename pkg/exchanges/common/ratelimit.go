package common

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing requests and tracks the venue's reported
// request weight for the current window.
type RateLimiter struct {
	pace          *rate.Limiter
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
}

// NewRateLimiter creates a limiter allowing perSecond requests with the
// given weight limit per resetInterval (1200 per minute on Binance spot).
func NewRateLimiter(perSecond float64, limit int, resetInterval time.Duration) *RateLimiter {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		pace:          rate.NewLimiter(rate.Limit(perSecond), burst),
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// Wait blocks until a request may be sent. Near the weight limit it holds
// requests until the window rolls over.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.ShouldDelay() {
		rl.mu.RLock()
		until := rl.lastReset.Add(rl.resetInterval)
		rl.mu.RUnlock()
		if d := time.Until(until); d > 0 {
			log.Printf("[GATEWAY] request weight near limit, holding %s", d.Round(time.Millisecond))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		}
	}
	return rl.pace.Wait(ctx)
}

// UpdateFromHeader records the used weight reported by the venue.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	pct := float64(rl.usedWeight) / float64(rl.limit) * 100
	if pct >= 95 {
		log.Printf("[GATEWAY] rate limit critical: %d/%d (%.1f%%)", rl.usedWeight, rl.limit, pct)
	} else if pct >= 80 {
		log.Printf("[GATEWAY] rate limit warning: %d/%d (%.1f%%)", rl.usedWeight, rl.limit, pct)
	}
}

// Usage returns the weight used in the current window.
func (rl *RateLimiter) Usage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if rl.limit <= 0 || time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit, 0
	}
	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// ShouldDelay returns true once 90% of the window weight is used.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.Usage()
	return pct >= 90
}
