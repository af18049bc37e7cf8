package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/session"
)

// ChromedpEngine drives Chromium through the DevTools protocol.
type ChromedpEngine struct {
	opts   EngineOptions
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromedpEngine returns an unstarted engine.
func NewChromedpEngine(opts EngineOptions, logger *zap.Logger) *ChromedpEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromedpEngine{opts: opts, logger: logger}
}

func (e *ChromedpEngine) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.UserAgent(e.opts.UserAgent),
	)
	if server := chromeProxyServer(e.opts.Proxy); server != "" {
		opts = append(opts, chromedp.ProxyServer(server))
	}
	if e.opts.BrowserPath != "" {
		opts = append(opts, chromedp.ExecPath(e.opts.BrowserPath))
	}
	if !e.opts.TLSVerify {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	return opts
}

// chromeProxyServer renders the proxy for --proxy-server. Chromium resolves
// hostnames through SOCKS5 proxies itself, so plain socks5:// is enough.
func chromeProxyServer(cfg session.ProxyConfig) string {
	switch cfg.Mode {
	case session.ProxyModeHTTP:
		return "http://" + cfg.Endpoint
	case session.ProxyModeSOCKS5:
		return "socks5://" + cfg.Endpoint
	default:
		return ""
	}
}

// Start launches the browser and opens the tab every bootstrap reuses.
func (e *ChromedpEngine) Start(ctx context.Context) error {
	if e.browserCtx != nil {
		return nil
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), e.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	stop := forwardCancel(ctx, browserCancel)
	defer stop()

	actions := []chromedp.Action{network.Enable()}
	if !e.opts.JSEnabled {
		actions = append(actions, emulation.SetScriptExecutionDisabled(true))
	}
	if err := chromedp.Run(browserCtx, actions...); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("start chromium: %w", err)
	}
	e.allocCancel = allocCancel
	e.browserCtx = browserCtx
	e.browserCancel = browserCancel
	e.logger.Info("browser started",
		zap.Bool("headless", e.opts.Headless),
		zap.Bool("js_enabled", e.opts.JSEnabled),
		zap.String("proxy", chromeProxyServer(e.opts.Proxy)),
	)
	return nil
}

// ClearCookies drops all browser cookies.
func (e *ChromedpEngine) ClearCookies(ctx context.Context) error {
	return e.run(ctx, network.ClearBrowserCookies())
}

// Navigate loads rawURL, issuing Page.stopLoading when timeout elapses.
func (e *ChromedpEngine) Navigate(ctx context.Context, rawURL string, timeout time.Duration) (bool, error) {
	if e.browserCtx == nil {
		return false, errors.New("chromium not started")
	}
	navCtx, cancel := context.WithTimeout(e.browserCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	err := chromedp.Run(navCtx, chromedp.Navigate(rawURL))
	switch {
	case err == nil:
		return false, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		if stopErr := e.run(ctx, page.StopLoading()); stopErr != nil {
			e.logger.Warn("stop loading failed", zap.Error(stopErr))
		}
		return true, nil
	default:
		return false, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
}

// Cookies returns the cookies applicable to rawURL.
func (e *ChromedpEngine) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	var cookies []*network.Cookie
	err := e.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{rawURL}).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return fromCDPCookies(cookies), nil
}

// Close terminates the browser process.
func (e *ChromedpEngine) Close() error {
	if e.browserCancel != nil {
		e.browserCancel()
	}
	if e.allocCancel != nil {
		e.allocCancel()
	}
	e.browserCtx, e.browserCancel, e.allocCancel = nil, nil, nil
	return nil
}

func (e *ChromedpEngine) run(ctx context.Context, actions ...chromedp.Action) error {
	if e.browserCtx == nil {
		return errors.New("chromium not started")
	}
	opCtx, cancel := context.WithCancel(e.browserCtx)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

func fromCDPCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			hc.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		out = append(out, hc)
	}
	return out
}

// forwardCancel cancels cancel when parent is done, until the returned stop
// func is called.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
