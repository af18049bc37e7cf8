// Package progress carries crawl milestones from the orchestrator to
// observers without ever blocking the crawl. Events are batched on a
// background goroutine and fanned out to sinks such as the log, Prometheus
// and the live status snapshot.
package progress
