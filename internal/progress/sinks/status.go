package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/listing-crawler/internal/progress"
)

// Snapshot is the live view of the current (or last) run.
type Snapshot struct {
	RunID           string          `json:"run_id,omitempty"`
	State           string          `json:"state"`
	StartedAt       time.Time       `json:"started_at,omitzero"`
	FinishedAt      time.Time       `json:"finished_at,omitzero"`
	Category        string          `json:"category,omitempty"`
	CategoriesSeen  int             `json:"categories_seen"`
	PagesVisited    int             `json:"pages_visited"`
	PagesDropped    int             `json:"pages_dropped"`
	Records         int             `json:"records"`
	ProductFailures int             `json:"product_failures"`
	Bootstraps      int             `json:"bootstraps"`
	FailedOrigins   []string        `json:"failed_origins,omitempty"`
	LastEvent       *progress.Stage `json:"last_event,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at,omitzero"`
}

// StatusSink folds events into a Snapshot for the status endpoint.
type StatusSink struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStatusSink returns a sink reporting the IDLE state.
func NewStatusSink() *StatusSink {
	return &StatusSink{snap: Snapshot{State: "IDLE"}}
}

// Consume applies each event to the snapshot.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *StatusSink) apply(evt progress.Event) {
	if evt.Stage == progress.StageRunStart {
		s.snap = Snapshot{RunID: evt.RunID.String(), State: "RUNNING", StartedAt: evt.TS}
	} else if s.snap.RunID != evt.RunID.String() {
		// Late events from a previous run.
		return
	}
	stage := evt.Stage
	s.snap.LastEvent = &stage
	s.snap.UpdatedAt = evt.TS

	switch evt.Stage {
	case progress.StageCategoryStart:
		s.snap.Category = evt.Category
		s.snap.CategoriesSeen++
	case progress.StagePageDone:
		s.snap.PagesVisited++
	case progress.StagePageDropped:
		s.snap.PagesDropped++
	case progress.StageProductDone:
		s.snap.Records = evt.Count
	case progress.StageProductFailed:
		s.snap.ProductFailures++
	case progress.StageBootstrapDone:
		s.snap.Bootstraps++
	case progress.StageBootstrapFailed:
		s.snap.FailedOrigins = append(s.snap.FailedOrigins, evt.Origin)
	case progress.StageRunDone:
		s.snap.State = evt.State
		s.snap.Records = evt.Count
		s.snap.FinishedAt = evt.TS
		s.snap.Category = ""
	}
}

// Snapshot returns a copy of the current view.
func (s *StatusSink) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.FailedOrigins = append([]string(nil), s.snap.FailedOrigins...)
	return out
}

// Close implements the Sink interface.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
