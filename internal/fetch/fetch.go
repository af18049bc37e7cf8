// Package fetch issues GETs through origin sessions with a fixed attempt
// budget, and refreshes an origin's session once when that budget is spent.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/session"
)

// Defaults mirror the original tool.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 5 * time.Second
)

// Provider hands out origin sessions. *session.Store satisfies it.
type Provider interface {
	GetOrCreate(ctx context.Context, origin crawler.Origin, seedURL string) (*session.Session, error)
	Invalidate(origin crawler.Origin)
}

// Waiter throttles attempts per origin. *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls attempts.
type Config struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxAttempts is the budget FetchWithRefresh spends before refreshing.
	MaxAttempts int
	// RetryDelay is the constant pause between attempts.
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

// Fetcher performs Fetch-with-Retry on colly.
type Fetcher struct {
	cfg     Config
	pauser  crawler.Pauser
	limiter Waiter
	logger  *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithPauser replaces the timer used between attempts.
func WithPauser(p crawler.Pauser) Option {
	return func(f *Fetcher) { f.pauser = p }
}

// WithLimiter waits on w before every attempt.
func WithLimiter(w Waiter) Option {
	return func(f *Fetcher) { f.limiter = w }
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		cfg:    cfg.withDefaults(),
		pauser: crawler.TimerPauser{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// MaxAttempts returns the configured attempt budget.
func (f *Fetcher) MaxAttempts() int { return f.cfg.MaxAttempts }

// Fetch GETs rawURL through sess up to maxAttempts times with a constant
// pause between attempts. Only a 200 response counts as success. When the
// budget is spent it returns a *crawler.FetchError. A done ctx ends the loop
// with ctx's error.
func (f *Fetcher) Fetch(ctx context.Context, sess *session.Session, rawURL string, maxAttempts int) ([]byte, error) {
	if sess == nil {
		return nil, fmt.Errorf("fetch %s: nil session", rawURL)
	}
	origin, err := crawler.OriginOf(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if origin != sess.Origin() {
		return nil, fmt.Errorf("fetch %s: session belongs to %s", rawURL, sess.Origin())
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, rawURL); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, err
			}
		}

		res, err := f.attempt(ctx, sess, rawURL)
		if err == nil && res.status == http.StatusOK {
			metrics.ObserveFetchAttempt(origin.Host, "ok", len(res.body))
			return res.body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastStatus, lastErr = res.status, err
		outcome := "error"
		if err == nil {
			outcome = strconv.Itoa(res.status)
			lastErr = fmt.Errorf("unexpected status %d", res.status)
		}
		metrics.ObserveFetchAttempt(origin.Host, outcome, 0)
		f.logger.Warn("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Int("status", res.status),
			zap.Error(err),
		)

		if attempt < maxAttempts {
			if err := f.pauser.Pause(ctx, f.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, &crawler.FetchError{URL: rawURL, Attempts: maxAttempts, Status: lastStatus, Err: lastErr}
}

// FetchWithRefresh fetches rawURL through its origin's session. When the
// attempt budget is spent it invalidates the session, bootstraps a fresh one
// and makes exactly one more attempt. A failure after the refresh wraps
// crawler.ErrSessionExpired; a failed bootstrap surfaces as
// *crawler.BootstrapError.
func (f *Fetcher) FetchWithRefresh(ctx context.Context, provider Provider, rawURL string) ([]byte, error) {
	origin, err := crawler.OriginOf(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	sess, err := provider.GetOrCreate(ctx, origin, rawURL)
	if err != nil {
		return nil, err
	}
	body, err := f.Fetch(ctx, sess, rawURL, f.cfg.MaxAttempts)
	if err == nil || !errors.Is(err, crawler.ErrTransientFetch) {
		return body, err
	}

	f.logger.Info("attempt budget spent, refreshing session",
		zap.String("origin", origin.String()),
		zap.String("url", rawURL),
	)
	provider.Invalidate(origin)
	metrics.ObserveSessionRefresh(origin.Host)
	sess, err = provider.GetOrCreate(ctx, origin, rawURL)
	if err != nil {
		return nil, err
	}
	body, err = f.Fetch(ctx, sess, rawURL, 1)
	if err != nil {
		if errors.Is(err, crawler.ErrTransientFetch) {
			return nil, fmt.Errorf("%w: %w", crawler.ErrSessionExpired, err)
		}
		return nil, err
	}
	return body, nil
}
