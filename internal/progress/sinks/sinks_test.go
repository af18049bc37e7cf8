package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/listing-crawler/internal/progress"
)

func runEvents(runID uuid.UUID) []progress.Event {
	now := time.Now().UTC()
	return []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageCategoryStart, Category: "http://a.onion/c1"},
		{RunID: runID, TS: now, Stage: progress.StageBootstrapDone, Origin: "http://a.onion"},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, URL: "http://a.onion/c1", Count: 2},
		{RunID: runID, TS: now, Stage: progress.StagePageDropped, URL: "http://a.onion/c1?page=2"},
		{RunID: runID, TS: now, Stage: progress.StageProductDone, URL: "http://a.onion/p1", Count: 1},
		{RunID: runID, TS: now, Stage: progress.StageProductFailed, URL: "http://a.onion/p2"},
		{RunID: runID, TS: now, Stage: progress.StageBootstrapFailed, Origin: "http://b.onion"},
		{RunID: runID, TS: now.Add(time.Second), Stage: progress.StageRunDone, State: "COMPLETED", Count: 1},
	}
}

func TestStatusSinkFoldsRun(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink()
	assert.Equal(t, "IDLE", sink.Snapshot().State)

	runID := uuid.New()
	require.NoError(t, sink.Consume(context.Background(), runEvents(runID)))

	snap := sink.Snapshot()
	assert.Equal(t, runID.String(), snap.RunID)
	assert.Equal(t, "COMPLETED", snap.State)
	assert.Equal(t, 1, snap.CategoriesSeen)
	assert.Equal(t, 1, snap.PagesVisited)
	assert.Equal(t, 1, snap.PagesDropped)
	assert.Equal(t, 1, snap.Records)
	assert.Equal(t, 1, snap.ProductFailures)
	assert.Equal(t, 1, snap.Bootstraps)
	assert.Equal(t, []string{"http://b.onion"}, snap.FailedOrigins)
	assert.Empty(t, snap.Category)
	assert.False(t, snap.FinishedAt.IsZero())
	require.NotNil(t, snap.LastEvent)
	assert.Equal(t, progress.StageRunDone, *snap.LastEvent)
}

func TestStatusSinkIgnoresStaleRun(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink()
	current, stale := uuid.New(), uuid.New()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: current, TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: stale, TS: time.Now(), Stage: progress.StagePageDone, URL: "http://a.onion/x"},
	}))
	assert.Zero(t, sink.Snapshot().PagesVisited)
	assert.Equal(t, "RUNNING", sink.Snapshot().State)
}

func TestStatusSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink()
	require.NoError(t, sink.Consume(context.Background(), runEvents(uuid.New())))
	snap := sink.Snapshot()
	snap.FailedOrigins[0] = "mutated"
	assert.Equal(t, "http://b.onion", sink.Snapshot().FailedOrigins[0])
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	events := runEvents(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), events))
	require.NoError(t, sink.Close(context.Background()))

	assert.Equal(t, len(events), logs.Len())
	info := logs.FilterLevelExact(zap.InfoLevel).All()
	require.Len(t, info, 3)
	assert.Equal(t, "RUN_START", info[0].ContextMap()["stage"])
	assert.Equal(t, "COMPLETED", info[2].ContextMap()["state"])
}

func TestPrometheusSinkUpdatesCollectors(t *testing.T) {
	// Shares process-wide collectors; not parallel.
	sink := NewPrometheusSink()
	pagesOK := gathered(t, "listingcrawler_pages_total", StatusOK)
	dropped := gathered(t, "listingcrawler_pages_total", StatusDropped)
	failed := gathered(t, "listingcrawler_products_total", StatusFailed)
	completed := gathered(t, "listingcrawler_runs_total", "COMPLETED")

	require.NoError(t, sink.Consume(context.Background(), runEvents(uuid.New())))
	require.NoError(t, sink.Close(context.Background()))

	assert.InDelta(t, pagesOK+1, gathered(t, "listingcrawler_pages_total", StatusOK), 0)
	assert.InDelta(t, dropped+1, gathered(t, "listingcrawler_pages_total", StatusDropped), 0)
	assert.InDelta(t, failed+1, gathered(t, "listingcrawler_products_total", StatusFailed), 0)
	assert.InDelta(t, completed+1, gathered(t, "listingcrawler_runs_total", "COMPLETED"), 0)
	assert.InDelta(t, 1, gathered(t, "listingcrawler_accumulated_records", ""), 0)
}

// gathered reads one sample from the default registry. label matches the
// first label value; an empty label matches unlabeled metrics.
func gathered(t *testing.T, name, label string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := m.GetLabel()
			if label != "" && (len(labels) == 0 || labels[0].GetValue() != label) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}
