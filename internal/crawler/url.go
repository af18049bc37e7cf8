package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Origin is the (scheme, host) pair sessions are partitioned by. Host keeps a
// non-default port when one is present.
type Origin struct {
	Scheme string
	Host   string
}

// String renders the origin as scheme://host.
func (o Origin) String() string {
	return o.Scheme + "://" + o.Host
}

// IsZero reports whether the origin is unset.
func (o Origin) IsZero() bool {
	return o.Scheme == "" && o.Host == ""
}

// OriginOf returns the origin of an absolute http(s) URL.
func OriginOf(rawURL string) (Origin, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Origin{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Origin{}, fmt.Errorf("url %q is not absolute", rawURL)
	}
	return originOfURL(u), nil
}

func originOfURL(u *url.URL) Origin {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	return Origin{Scheme: scheme, Host: host}
}

// ResolveProductURL resolves a product link against the category it came
// from. Links without a host inherit the category's origin.
func ResolveProductURL(categoryURL, productURL string) (string, Origin, error) {
	base, err := url.Parse(categoryURL)
	if err != nil {
		return "", Origin{}, fmt.Errorf("parse category url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(productURL))
	if err != nil {
		return "", Origin{}, fmt.Errorf("parse product url: %w", err)
	}
	abs := base.ResolveReference(ref)
	if abs.Host == "" {
		return "", Origin{}, errors.New("product url has no host")
	}
	return abs.String(), originOfURL(abs), nil
}

// NormalizeURL standardizes a URL for dedup: scheme and host are lowercased,
// default ports and fragments are dropped. Query order is preserved because
// listing sites frequently key products on parameter position.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	o := originOfURL(u)
	u.Scheme = o.Scheme
	u.Host = o.Host
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
