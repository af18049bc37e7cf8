package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracerProviderStampsService(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp, err := NewTracerProvider(context.Background(), Options{ServiceName: "listingcrawler", Version: "v1.2.3"},
		sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	attrs := ended[0].Resource().Attributes()
	assert.Contains(t, attrs, attribute.String("service.name", "listingcrawler"))
	assert.Contains(t, attrs, attribute.String("service.version", "v1.2.3"))
}

func TestZeroSampleRatioSamplesEverything(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp, err := NewTracerProvider(context.Background(), Options{ServiceName: "x", SampleRatio: 0},
		sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))
}
