// Package session holds the per-origin HTTP sessions the crawler fetches
// through: a cookie jar seeded from a browser snapshot, the run's proxy and
// TLS settings, and a fixed user agent. Store keeps at most one live Session
// per origin and re-bootstraps on demand after invalidation.
package session
