package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/session"
)

// Mode selects whether bootstraps pause for an operator.
type Mode string

// Bootstrap modes.
const (
	ModeUnattended  Mode = "unattended"
	ModeInteractive Mode = "interactive"
)

// Defaults applied when Options leaves a duration unset.
const (
	DefaultWarmup          = 60 * time.Second
	DefaultPageLoadTimeout = 300 * time.Second
)

// Options configures a Bootstrapper.
type Options struct {
	Mode            Mode
	Warmup          time.Duration
	PageLoadTimeout time.Duration
	KeepBrowserOpen bool
	// Session carries the proxy, TLS and user agent settings copied into
	// every session the bootstrapper creates.
	Session session.Settings
}

// Bootstrapper turns a browser visit into a session. It owns one lazily
// started Engine for the whole run and admits one bootstrap at a time.
type Bootstrapper struct {
	opts      Options
	newEngine func() (Engine, error)
	operator  Operator
	pauser    crawler.Pauser
	cache     CookieCache
	observe   func(Report)
	logger    *zap.Logger

	slot   chan struct{}
	engine Engine
}

// Option customizes a Bootstrapper.
type Option func(*Bootstrapper)

// WithOperator sets the interactive suspend point.
func WithOperator(op Operator) Option {
	return func(b *Bootstrapper) { b.operator = op }
}

// WithPauser replaces the warm-up timer.
func WithPauser(p crawler.Pauser) Option {
	return func(b *Bootstrapper) { b.pauser = p }
}

// WithCookieCache enables cookie snapshot reuse.
func WithCookieCache(c CookieCache) Option {
	return func(b *Bootstrapper) { b.cache = c }
}

// Report describes one finished bootstrap. Err is nil on success.
type Report struct {
	Origin   crawler.Origin
	Reason   string
	Duration time.Duration
	Cached   bool
	Err      error
}

// WithObserver is called after every bootstrap, successful or not.
func WithObserver(fn func(Report)) Option {
	return func(b *Bootstrapper) { b.observe = fn }
}

// New builds a Bootstrapper. newEngine is called lazily on the first
// bootstrap and again after a failed start.
func New(opts Options, newEngine func() (Engine, error), logger *zap.Logger, options ...Option) (*Bootstrapper, error) {
	if newEngine == nil {
		return nil, errors.New("bootstrap engine factory is required")
	}
	if opts.Mode == "" {
		opts.Mode = ModeUnattended
	}
	if opts.Mode != ModeUnattended && opts.Mode != ModeInteractive {
		return nil, fmt.Errorf("unknown bootstrap mode %q", opts.Mode)
	}
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = DefaultPageLoadTimeout
	}
	if opts.Warmup < 0 {
		opts.Warmup = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bootstrapper{
		opts:      opts,
		newEngine: newEngine,
		pauser:    crawler.TimerPauser{},
		observe:   func(Report) {},
		logger:    logger,
		slot:      make(chan struct{}, 1),
	}
	for _, o := range options {
		o(b)
	}
	if b.opts.Mode == ModeInteractive && b.operator == nil {
		return nil, errors.New("interactive bootstrap requires an operator")
	}
	return b, nil
}

// Bootstrap acquires credentials for the origin of seedURL.
func (b *Bootstrapper) Bootstrap(ctx context.Context, seedURL, reason string) (*session.Session, error) {
	origin, err := crawler.OriginOf(seedURL)
	if err != nil {
		return nil, &crawler.BootstrapError{Reason: reason, Err: err}
	}
	start := time.Now()
	sess, cached, err := b.bootstrap(ctx, origin, seedURL, reason)
	elapsed := time.Since(start)
	metrics.ObserveBootstrap(reason, err == nil, elapsed)
	b.observe(Report{Origin: origin, Reason: reason, Duration: elapsed, Cached: cached, Err: err})
	return sess, err
}

func (b *Bootstrapper) bootstrap(ctx context.Context, origin crawler.Origin, seedURL, reason string) (*session.Session, bool, error) {
	fail := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &crawler.BootstrapError{Origin: origin, Reason: reason, Err: err}
	}

	select {
	case b.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	defer func() { <-b.slot }()

	log := b.logger.With(zap.String("origin", origin.String()), zap.String("reason", reason))

	if sess, ok := b.fromCache(ctx, origin, reason, log); ok {
		return sess, true, nil
	}

	engine, err := b.ensureEngine(ctx)
	if err != nil {
		return nil, false, fail(err)
	}
	if err := engine.ClearCookies(ctx); err != nil {
		log.Warn("clear browser cookies failed", zap.Error(err))
	}

	log.Info("opening seed in browser", zap.String("url", seedURL))
	timedOut, err := engine.Navigate(ctx, seedURL, b.opts.PageLoadTimeout)
	if err != nil {
		return nil, false, fail(err)
	}
	if timedOut {
		log.Warn("page load timed out, stopped loading and continuing",
			zap.Duration("timeout", b.opts.PageLoadTimeout))
	}

	if b.opts.Warmup > 0 {
		log.Info("waiting before collecting cookies", zap.Duration("warmup", b.opts.Warmup))
		if err := b.pauser.Pause(ctx, b.opts.Warmup); err != nil {
			return nil, false, err
		}
	}
	if b.opts.Mode == ModeInteractive {
		prompt := fmt.Sprintf("Solve any challenge for %s in the browser window.", origin)
		if err := b.operator.Await(ctx, prompt); err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			return nil, false, fail(err)
		}
	}

	cookies, err := engine.Cookies(ctx, seedURL)
	if err != nil {
		return nil, false, fail(err)
	}
	sess, err := session.New(origin, cookies, b.opts.Session, reason)
	if err != nil {
		return nil, false, fail(err)
	}
	if b.cache != nil {
		if err := b.cache.Store(ctx, origin, cookies); err != nil {
			log.Warn("cache cookie snapshot failed", zap.Error(err))
		}
	}
	log.Info("credentials captured", zap.Int("cookies", len(cookies)))
	return sess, false, nil
}

func (b *Bootstrapper) fromCache(ctx context.Context, origin crawler.Origin, reason string, log *zap.Logger) (*session.Session, bool) {
	if b.cache == nil {
		return nil, false
	}
	if reason == session.ReasonRefresh {
		if err := b.cache.Delete(ctx, origin); err != nil {
			log.Warn("drop stale cookie snapshot failed", zap.Error(err))
		}
		return nil, false
	}
	cookies, ok, err := b.cache.Load(ctx, origin)
	if err != nil {
		log.Warn("load cookie snapshot failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	sess, err := session.New(origin, cookies, b.opts.Session, reason)
	if err != nil {
		log.Warn("cached cookie snapshot unusable", zap.Error(err))
		return nil, false
	}
	log.Info("reusing cached credentials", zap.Int("cookies", len(cookies)))
	return sess, true
}

func (b *Bootstrapper) ensureEngine(ctx context.Context) (Engine, error) {
	if b.engine != nil {
		return b.engine, nil
	}
	engine, err := b.newEngine()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	if err := engine.Start(ctx); err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}
	b.engine = engine
	return engine, nil
}

// Close releases the browser unless it should stay open. Interactive runs
// ask the operator before closing so a challenge page can still be inspected.
func (b *Bootstrapper) Close(ctx context.Context) error {
	select {
	case b.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-b.slot }()

	if b.engine == nil {
		return nil
	}
	if b.opts.KeepBrowserOpen {
		b.logger.Info("leaving browser open")
		b.engine = nil
		return nil
	}
	if b.opts.Mode == ModeInteractive {
		// The operator answers at their own pace. Only a closed signal
		// channel ends the prompt early, never the shutdown deadline.
		if err := b.operator.Await(context.WithoutCancel(ctx), "Ready to close the browser."); err != nil {
			b.logger.Debug("operator close prompt skipped", zap.Error(err))
		}
	}
	err := b.engine.Close()
	b.engine = nil
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
