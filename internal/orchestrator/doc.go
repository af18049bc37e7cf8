// Package orchestrator drives a crawl run: it walks every seed category,
// fetches each newly discovered product once, paces requests, and flushes
// the accumulated records exactly once whatever way the run ends.
package orchestrator
