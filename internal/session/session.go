package session

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// DefaultUserAgent matches the desktop Firefox profile the bootstrap
// browser presents, so cookies stay valid when replayed.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; rv:102.0) Gecko/20100101 Firefox/102.0"

// Settings are the run-wide transport settings every session shares.
type Settings struct {
	Proxy     ProxyConfig
	TLSVerify bool
	UserAgent string
	Timeout   time.Duration
}

// Session authorizes requests to exactly one origin. Sessions are replaced,
// never mutated, when credentials are refreshed.
type Session struct {
	origin    crawler.Origin
	client    *http.Client
	userAgent string
	cookies   []*http.Cookie
	createdAt time.Time
	reason    string
}

// New builds a session for origin from a browser cookie snapshot.
func New(origin crawler.Origin, cookies []*http.Cookie, settings Settings, reason string) (*Session, error) {
	if origin.IsZero() {
		return nil, fmt.Errorf("session origin is required")
	}
	if settings.UserAgent == "" {
		settings.UserAgent = DefaultUserAgent
	}
	base, err := newBaseTransport(settings)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	originURL := &url.URL{Scheme: origin.Scheme, Host: origin.Host, Path: "/"}
	snapshot := cloneCookies(cookies)
	jar.SetCookies(originURL, snapshot)

	return &Session{
		origin:    origin,
		userAgent: settings.UserAgent,
		cookies:   snapshot,
		createdAt: time.Now().UTC(),
		reason:    reason,
		client: &http.Client{
			Transport: &headerTransport{
				base:      &decodingTransport{base: base},
				userAgent: settings.UserAgent,
			},
			Timeout: settings.Timeout,
			Jar:     jar,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}, nil
}

// Origin returns the origin this session is bound to.
func (s *Session) Origin() crawler.Origin { return s.origin }

// Client returns the HTTP client carrying the session's cookies and proxy.
func (s *Session) Client() *http.Client { return s.client }

// UserAgent returns the fixed user agent.
func (s *Session) UserAgent() string { return s.userAgent }

// Cookies returns a copy of the cookie snapshot the session was built from.
func (s *Session) Cookies() []*http.Cookie { return cloneCookies(s.cookies) }

// CreatedAt returns when the session was built.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Reason returns the bootstrap reason label.
func (s *Session) Reason() string { return s.reason }

func cloneCookies(in []*http.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil || c.Name == "" {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out
}
