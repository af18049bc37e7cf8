// Package bootstrap acquires origin credentials by driving a real browser:
// it navigates to a seed URL, waits out anti-automation challenges (and,
// in interactive mode, an operator), then snapshots the cookies into a
// session.Session.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/session"
)

// Engine names accepted by NewEngine.
const (
	EngineChromedp   = "chromedp"
	EnginePlaywright = "playwright"
)

// Engine is the browser automation back end. A Bootstrapper owns exactly one
// Engine and never calls it concurrently.
type Engine interface {
	// Start launches the browser. It is called once before first use and
	// again only after a failed start.
	Start(ctx context.Context) error
	// ClearCookies drops every cookie the browser holds.
	ClearCookies(ctx context.Context) error
	// Navigate loads rawURL. When the load exceeds timeout the engine stops
	// loading and reports timedOut instead of failing.
	Navigate(ctx context.Context, rawURL string, timeout time.Duration) (timedOut bool, err error)
	// Cookies returns the cookies the browser would send to rawURL.
	Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error)
	// Close shuts the browser down.
	Close() error
}

// EngineOptions configures either engine.
type EngineOptions struct {
	Proxy       session.ProxyConfig
	JSEnabled   bool
	Headless    bool
	BrowserPath string
	UserAgent   string
	TLSVerify   bool
}

// NewEngine builds an unstarted engine by name.
func NewEngine(name string, opts EngineOptions, logger *zap.Logger) (Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = session.DefaultUserAgent
	}
	switch name {
	case "", EngineChromedp:
		return NewChromedpEngine(opts, logger.Named("chromedp")), nil
	case EnginePlaywright:
		return NewPlaywrightEngine(opts, logger.Named("playwright")), nil
	default:
		return nil, fmt.Errorf("unknown bootstrap engine %q", name)
	}
}
