// Package sinks implements progress consumers: structured logging, the
// Prometheus collectors and the live status snapshot served over HTTP.
package sinks
