package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyMode selects how sessions and the bootstrap browser reach origins.
type ProxyMode string

// Supported proxy modes. ProxyModeNone is only used when no proxy is
// configured, for example against local test servers.
const (
	ProxyModeNone   ProxyMode = ""
	ProxyModeHTTP   ProxyMode = "http"
	ProxyModeSOCKS5 ProxyMode = "socks5"
)

// Default proxy endpoints: a local HTTP bridge (privoxy-style) or the Tor SOCKS port.
const (
	DefaultHTTPProxyEndpoint   = "127.0.0.1:8118"
	DefaultSOCKS5ProxyEndpoint = "127.0.0.1:9050"
)

// ErrInvalidProxyEndpoint is returned when an endpoint is not host:port.
var ErrInvalidProxyEndpoint = errors.New("invalid proxy endpoint: expected host:port")

// ProxyConfig is chosen once per run and shared by every session and the browser.
type ProxyConfig struct {
	Mode     ProxyMode
	Endpoint string
}

// WithDefaults fills the endpoint from the mode when it is empty.
func (c ProxyConfig) WithDefaults() ProxyConfig {
	if c.Endpoint != "" {
		return c
	}
	switch c.Mode {
	case ProxyModeHTTP:
		c.Endpoint = DefaultHTTPProxyEndpoint
	case ProxyModeSOCKS5:
		c.Endpoint = DefaultSOCKS5ProxyEndpoint
	}
	return c
}

// Validate checks the mode and endpoint format.
func (c ProxyConfig) Validate() error {
	switch c.Mode {
	case ProxyModeNone:
		return nil
	case ProxyModeHTTP, ProxyModeSOCKS5:
	default:
		return fmt.Errorf("unknown proxy mode %q", c.Mode)
	}
	host, port, err := net.SplitHostPort(c.Endpoint)
	if err != nil || host == "" {
		return ErrInvalidProxyEndpoint
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return ErrInvalidProxyEndpoint
	}
	return nil
}

// URL renders the proxy as a URL. SOCKS5 uses the socks5h scheme because
// hostnames are always resolved by the proxy.
func (c ProxyConfig) URL() string {
	switch c.Mode {
	case ProxyModeHTTP:
		return "http://" + c.Endpoint
	case ProxyModeSOCKS5:
		return "socks5h://" + c.Endpoint
	default:
		return ""
	}
}

// apply routes the transport through the configured proxy.
func (c ProxyConfig) apply(transport *http.Transport) error {
	switch c.Mode {
	case ProxyModeNone:
		transport.Proxy = nil
		return nil
	case ProxyModeHTTP:
		transport.Proxy = http.ProxyURL(&url.URL{Scheme: "http", Host: c.Endpoint})
		return nil
	case ProxyModeSOCKS5:
		// Hostnames are passed through to the proxy, so .onion names resolve remotely.
		dialer, err := proxy.SOCKS5("tcp", c.Endpoint, nil, proxy.Direct)
		if err != nil {
			return fmt.Errorf("create socks5 dialer: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown proxy mode %q", c.Mode)
	}
}

// Probe dials the proxy endpoint once to confirm something is listening.
func Probe(ctx context.Context, cfg ProxyConfig, timeout time.Duration) error {
	if cfg.Mode == ProxyModeNone {
		return nil
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("proxy %s unreachable: %w", cfg.Endpoint, err)
	}
	return conn.Close()
}
