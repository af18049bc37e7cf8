package sinks

import (
	"context"

	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/progress"
)

// Page and product outcome labels.
const (
	StatusOK      = "ok"
	StatusDropped = "dropped"
	StatusFailed  = "failed"
)

// PrometheusSink translates progress events into the process-wide collectors
// registered by the metrics package.
type PrometheusSink struct{}

// NewPrometheusSink makes sure the collectors are registered.
func NewPrometheusSink() *PrometheusSink {
	metrics.Init()
	return &PrometheusSink{}
}

// Consume updates the collectors for every event in the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StagePageDone:
			metrics.ObservePage(StatusOK)
		case progress.StagePageDropped:
			metrics.ObservePage(StatusDropped)
		case progress.StageProductDone:
			metrics.ObserveProduct(StatusOK)
			metrics.SetAccumulatedRecords(evt.Count)
		case progress.StageProductFailed:
			metrics.ObserveProduct(StatusFailed)
		case progress.StageRunStart:
			metrics.SetAccumulatedRecords(0)
		case progress.StageRunDone:
			metrics.ObserveRun(evt.State)
			metrics.SetAccumulatedRecords(evt.Count)
		}
	}
	return nil
}

// Close implements the Sink interface.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
