package bootstrap

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/session"
)

func TestNewEngineByName(t *testing.T) {
	t.Parallel()

	e, err := NewEngine(EngineChromedp, EngineOptions{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &ChromedpEngine{}, e)

	e, err = NewEngine(EnginePlaywright, EngineOptions{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &PlaywrightEngine{}, e)

	_, err = NewEngine("lynx", EngineOptions{}, nil)
	require.Error(t, err)
}

func TestProxyServerStrings(t *testing.T) {
	t.Parallel()

	socks := session.ProxyConfig{Mode: session.ProxyModeSOCKS5, Endpoint: "127.0.0.1:9050"}
	httpProxy := session.ProxyConfig{Mode: session.ProxyModeHTTP, Endpoint: "127.0.0.1:8118"}

	assert.Equal(t, "socks5://127.0.0.1:9050", chromeProxyServer(socks))
	assert.Equal(t, "http://127.0.0.1:8118", chromeProxyServer(httpProxy))
	assert.Empty(t, chromeProxyServer(session.ProxyConfig{}))
	assert.Equal(t, "socks5://127.0.0.1:9050", firefoxProxyServer(socks))
}

func TestFirefoxPrefs(t *testing.T) {
	t.Parallel()

	prefs := firefoxPrefs(EngineOptions{
		Proxy:     session.ProxyConfig{Mode: session.ProxyModeSOCKS5, Endpoint: "127.0.0.1:9050"},
		JSEnabled: false,
	})
	assert.Equal(t, true, prefs["network.proxy.socks_remote_dns"])
	assert.Equal(t, false, prefs["javascript.enabled"])

	prefs = firefoxPrefs(EngineOptions{JSEnabled: true})
	_, hasJS := prefs["javascript.enabled"]
	assert.False(t, hasJS)
}

func TestCookieConversion(t *testing.T) {
	t.Parallel()

	cdp := fromCDPCookies([]*network.Cookie{
		{Name: "a", Value: "1", Domain: "a.onion", Path: "/", Expires: 1700000000, HTTPOnly: true},
		{Name: "b", Value: "2", Session: true, Expires: -1},
		nil,
	})
	require.Len(t, cdp, 2)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), cdp[0].Expires)
	assert.True(t, cdp[0].HttpOnly)
	assert.True(t, cdp[1].Expires.IsZero())

	pw := fromPlaywrightCookies([]playwright.Cookie{{Name: "c", Value: "3", Secure: true, Expires: -1}})
	require.Len(t, pw, 1)
	assert.True(t, pw[0].Secure)
	assert.True(t, pw[0].Expires.IsZero())
}

func TestChromedpAllocatorOptionsIncludeProxy(t *testing.T) {
	t.Parallel()

	e := NewChromedpEngine(EngineOptions{
		Proxy:       session.ProxyConfig{Mode: session.ProxyModeSOCKS5, Endpoint: "127.0.0.1:9050"},
		BrowserPath: "/opt/chromium/chrome",
	}, nil)
	base := NewChromedpEngine(EngineOptions{TLSVerify: true}, nil)
	assert.Greater(t, len(e.allocatorOptions()), len(base.allocatorOptions()))
}
