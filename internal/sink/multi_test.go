package sink

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

type fakeSink struct {
	name string
	err  error

	mu     sync.Mutex
	writes [][]crawler.ProductRecord
	closed bool
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Write(_ context.Context, _ crawler.RunInfo, records []crawler.ProductRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, records)
	if f.err != nil {
		return "", f.err
	}
	return f.name + "://ok", nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func TestMultiFlushFansOut(t *testing.T) {
	t.Parallel()

	primary := &fakeSink{name: "file"}
	good := &fakeSink{name: "gcs"}
	bad := &fakeSink{name: "postgres", err: errors.New("connection reset")}
	m := NewMulti(primary, []Sink{good, bad}, nil)

	report, err := m.Flush(context.Background(), testRun(), sampleRecords(2))
	require.NoError(t, err)
	assert.Equal(t, "file://ok", report.Primary)
	assert.Equal(t, map[string]string{"file": "file://ok", "gcs": "gcs://ok"}, report.Artifacts)
	assert.Equal(t, map[string]string{"postgres": "connection reset"}, report.Errors)
	assert.Len(t, good.writes, 1)
	assert.Len(t, bad.writes, 1)
}

func TestMultiPrimaryFailureSkipsSecondaries(t *testing.T) {
	t.Parallel()

	primary := &fakeSink{name: "file", err: errors.New("read-only fs")}
	secondary := &fakeSink{name: "gcs"}
	m := NewMulti(primary, []Sink{secondary}, nil)

	report, err := m.Flush(context.Background(), testRun(), sampleRecords(1))
	require.Error(t, err)
	assert.Empty(t, report.Primary)
	assert.Contains(t, report.Errors, "file")
	assert.Empty(t, secondary.writes)
}

func TestMultiCloseClosesSinks(t *testing.T) {
	t.Parallel()

	primary := &fakeSink{name: "file"}
	secondary := &fakeSink{name: "sqlite"}
	m := NewMulti(primary, []Sink{secondary}, nil)
	require.NoError(t, m.Close())
	assert.True(t, primary.closed)
	assert.True(t, secondary.closed)
}
