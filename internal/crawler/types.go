package crawler

import (
	"time"
)

// RunState represents the lifecycle state of a crawl run.
type RunState string

// Run states. COMPLETED, INTERRUPTED and FAILED are terminal.
const (
	RunStateIdle        RunState = "IDLE"
	RunStateRunning     RunState = "RUNNING"
	RunStateCompleted   RunState = "COMPLETED"
	RunStateInterrupted RunState = "INTERRUPTED"
	RunStateFailed      RunState = "FAILED"
)

// Terminal reports whether no further transitions are possible from s.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateCompleted, RunStateInterrupted, RunStateFailed:
		return true
	default:
		return false
	}
}

// ProductRecord is one fetched product page plus its provenance. Records are
// never mutated after the orchestrator appends them.
type ProductRecord struct {
	Market        string `json:"market"`
	Category      string `json:"category"`
	CategoryPage  string `json:"category_page"`
	ProductURL    string `json:"product_url"`
	FetchedAt     int64  `json:"fetched_at"`
	ContentSHA256 string `json:"content_sha256,omitempty"`
	HTML          string `json:"html"`
}

// RunInfo identifies the run a flush belongs to.
type RunInfo struct {
	ID        string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	State     RunState  `json:"state"`
}

// RunSummary is returned by the orchestrator once a terminal state is reached
// and is published as the run-completed notification.
type RunSummary struct {
	RunID           string            `json:"run_id"`
	State           RunState          `json:"state"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	Categories      int               `json:"categories"`
	CategoriesDone  int               `json:"categories_done"`
	PagesVisited    int               `json:"pages_visited"`
	PagesDropped    int               `json:"pages_dropped"`
	Records         int               `json:"records"`
	ProductFailures int               `json:"product_failures"`
	Artifacts       map[string]string `json:"artifacts,omitempty"`
	SinkErrors      map[string]string `json:"sink_errors,omitempty"`
	Error           string            `json:"error,omitempty"`
}
