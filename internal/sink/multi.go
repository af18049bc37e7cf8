package sink

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Report is the outcome of one flush across all sinks.
type Report struct {
	// Primary is the URI of the primary artifact.
	Primary   string
	Artifacts map[string]string
	Errors    map[string]string
}

// Multi writes to a primary sink and then, concurrently, to any secondary
// sinks. Only a primary failure fails the flush.
type Multi struct {
	primary     Sink
	secondaries []Sink
	logger      *zap.Logger
}

// NewMulti builds a fan-out sink.
func NewMulti(primary Sink, secondaries []Sink, logger *zap.Logger) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{primary: primary, secondaries: secondaries, logger: logger}
}

// Flush writes records everywhere.
func (m *Multi) Flush(ctx context.Context, run crawler.RunInfo, records []crawler.ProductRecord) (Report, error) {
	report := Report{Artifacts: map[string]string{}, Errors: map[string]string{}}
	uri, err := m.primary.Write(ctx, run, records)
	if err != nil {
		report.Errors[m.primary.Name()] = err.Error()
		return report, fmt.Errorf("write %s sink: %w", m.primary.Name(), err)
	}
	report.Primary = uri
	report.Artifacts[m.primary.Name()] = uri
	m.logger.Info("records flushed",
		zap.String("sink", m.primary.Name()),
		zap.String("uri", uri),
		zap.Int("records", len(records)),
		zap.String("state", string(run.State)),
	)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, s := range m.secondaries {
		g.Go(func() error {
			uri, err := s.Write(ctx, run, records)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors[s.Name()] = err.Error()
				m.logger.Error("secondary sink failed", zap.String("sink", s.Name()), zap.Error(err))
				return nil
			}
			report.Artifacts[s.Name()] = uri
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

// Close closes every sink that holds resources.
func (m *Multi) Close() error {
	var firstErr error
	for _, s := range append([]Sink{m.primary}, m.secondaries...) {
		c, ok := s.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
