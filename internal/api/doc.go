// Package api serves the status endpoints of a running crawl: liveness,
// readiness, Prometheus metrics and the live run snapshot.
package api
