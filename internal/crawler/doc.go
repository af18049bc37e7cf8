// Package crawler defines the domain types shared by the listing crawler:
// origins, product records, run states, the error taxonomy, and the small
// timing and dedup primitives the walker and orchestrator are built on.
package crawler
