// Package ratelimit implements per-origin token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// Limiter hands out one bucket per origin so a slow origin never throttles
// another.
type Limiter struct {
	mu       sync.Mutex
	limiters map[crawler.Origin]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// Config holds rate limiter configuration. RPS <= 0 disables limiting.
type Config struct {
	RPS   float64
	Burst int
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[crawler.Origin]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Enabled reports whether waits can ever block.
func (l *Limiter) Enabled() bool {
	return l != nil && l.rate != rate.Inf
}

// Wait blocks until rawURL's origin has a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if !l.Enabled() {
		return nil
	}
	origin, err := crawler.OriginOf(rawURL)
	if err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	l.mu.Lock()
	limiter, ok := l.limiters[origin]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[origin] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(origin.Host, waited)
	}
	return nil
}
