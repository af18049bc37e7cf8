package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/session"
)

// PlaywrightEngine drives Firefox through Playwright. Firefox is the closest
// match to a Tor Browser profile and honours the same proxy preferences.
type PlaywrightEngine struct {
	opts   EngineOptions
	logger *zap.Logger

	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

// NewPlaywrightEngine returns an unstarted engine.
func NewPlaywrightEngine(opts EngineOptions, logger *zap.Logger) *PlaywrightEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlaywrightEngine{opts: opts, logger: logger}
}

func (e *PlaywrightEngine) launchOptions() playwright.BrowserTypeLaunchOptions {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless:         playwright.Bool(e.opts.Headless),
		FirefoxUserPrefs: firefoxPrefs(e.opts),
	}
	if server := firefoxProxyServer(e.opts.Proxy); server != "" {
		opts.Proxy = &playwright.Proxy{Server: server}
	}
	if e.opts.BrowserPath != "" {
		opts.ExecutablePath = playwright.String(e.opts.BrowserPath)
	}
	return opts
}

func firefoxProxyServer(cfg session.ProxyConfig) string {
	switch cfg.Mode {
	case session.ProxyModeHTTP:
		return "http://" + cfg.Endpoint
	case session.ProxyModeSOCKS5:
		return "socks5://" + cfg.Endpoint
	default:
		return ""
	}
}

func firefoxPrefs(opts EngineOptions) map[string]interface{} {
	prefs := map[string]interface{}{
		"network.proxy.no_proxies_on": "",
	}
	if opts.Proxy.Mode == session.ProxyModeSOCKS5 {
		// Let the proxy resolve .onion names.
		prefs["network.proxy.socks_remote_dns"] = true
	}
	if !opts.JSEnabled {
		prefs["javascript.enabled"] = false
	}
	return prefs
}

// Start launches Firefox and opens the page every bootstrap reuses.
func (e *PlaywrightEngine) Start(ctx context.Context) error {
	if e.page != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Firefox.Launch(e.launchOptions())
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("launch firefox: %w", err)
	}
	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(e.opts.UserAgent),
		JavaScriptEnabled: playwright.Bool(e.opts.JSEnabled),
		IgnoreHttpsErrors: playwright.Bool(!e.opts.TLSVerify),
		AcceptDownloads:   playwright.Bool(false),
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("create browser context: %w", err)
	}
	pg, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("open page: %w", err)
	}
	e.pw, e.browser, e.context, e.page = pw, browser, bctx, pg
	e.logger.Info("browser started",
		zap.Bool("headless", e.opts.Headless),
		zap.Bool("js_enabled", e.opts.JSEnabled),
		zap.String("proxy", firefoxProxyServer(e.opts.Proxy)),
	)
	return nil
}

// ClearCookies drops all cookies in the browser context.
func (e *PlaywrightEngine) ClearCookies(context.Context) error {
	if e.context == nil {
		return errors.New("firefox not started")
	}
	if err := e.context.ClearCookies(); err != nil {
		return fmt.Errorf("clear cookies: %w", err)
	}
	return nil
}

// Navigate loads rawURL and calls window.stop() when timeout elapses. A
// canceled ctx aborts the load in flight.
func (e *PlaywrightEngine) Navigate(ctx context.Context, rawURL string, timeout time.Duration) (bool, error) {
	if e.page == nil {
		return false, errors.New("firefox not started")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	timedOut, pageClosed, err := navigatePage(ctx, e.page, rawURL, timeout, e.logger)
	if pageClosed && e.context != nil {
		pg, perr := e.context.NewPage()
		if perr != nil {
			e.page = nil
			return false, errors.Join(err, fmt.Errorf("reopen page: %w", perr))
		}
		e.page = pg
	}
	return timedOut, err
}

// navPage is the part of playwright.Page a navigation touches.
type navPage interface {
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
	Close(options ...playwright.PageCloseOptions) error
}

// navigatePage runs one Goto. Goto takes no context, so a watcher stops the
// load when ctx ends and closes the page if the stop itself fails. The
// second result reports that the page was closed.
func navigatePage(ctx context.Context, page navPage, rawURL string, timeout time.Duration, logger *zap.Logger) (bool, bool, error) {
	finished := make(chan struct{})
	closed := make(chan bool, 1)
	go func() {
		select {
		case <-finished:
			closed <- false
		case <-ctx.Done():
			if _, err := page.Evaluate("() => window.stop()"); err == nil {
				closed <- false
				return
			}
			if err := page.Close(); err != nil {
				logger.Warn("close page after cancel", zap.Error(err))
			}
			closed <- true
		}
	}()

	_, err := page.Goto(rawURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	close(finished)
	pageClosed := <-closed

	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, pageClosed, ctxErr
	}
	switch {
	case err == nil:
		return false, pageClosed, nil
	case errors.Is(err, playwright.ErrTimeout):
		if _, stopErr := page.Evaluate("() => window.stop()"); stopErr != nil {
			logger.Warn("window.stop failed", zap.Error(stopErr))
		}
		return true, pageClosed, nil
	default:
		return false, pageClosed, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
}

// Cookies returns the cookies applicable to rawURL.
func (e *PlaywrightEngine) Cookies(_ context.Context, rawURL string) ([]*http.Cookie, error) {
	if e.context == nil {
		return nil, errors.New("firefox not started")
	}
	cookies, err := e.context.Cookies(rawURL)
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return fromPlaywrightCookies(cookies), nil
}

// Close shuts down the page, browser and driver.
func (e *PlaywrightEngine) Close() error {
	var errs []error
	if e.context != nil {
		if err := e.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
	}
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if e.pw != nil {
		if err := e.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
	}
	e.pw, e.browser, e.context, e.page = nil, nil, nil, nil
	return errors.Join(errs...)
}

func fromPlaywrightCookies(in []playwright.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		if c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			hc.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		out = append(out, hc)
	}
	return out
}
