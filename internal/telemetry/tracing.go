// Package telemetry sets up OpenTelemetry tracing, exporting to Google Cloud
// Trace when a project is configured.
package telemetry

import (
	"context"
	"fmt"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Options describes the service and where spans go.
type Options struct {
	ServiceName string
	Version     string
	// ProjectID enables export to Cloud Trace. Without it spans are still
	// created, which keeps trace IDs in logs, but nothing leaves the process.
	ProjectID string
	// SampleRatio is the fraction of runs traced; values outside (0, 1] mean always.
	SampleRatio float64
}

// NewTracerProvider builds a provider for opts. Extra provider options (span
// processors, in tests) are appended.
func NewTracerProvider(ctx context.Context, opts Options, extra ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if opts.SampleRatio > 0 && opts.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(opts.SampleRatio)
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}
	if opts.ProjectID != "" {
		exporter, err := texporter.New(texporter.WithProjectID(opts.ProjectID))
		if err != nil {
			return nil, fmt.Errorf("create cloud trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tpOpts = append(tpOpts, extra...)
	return sdktrace.NewTracerProvider(tpOpts...), nil
}

// Install makes tp the global provider and sets W3C propagation.
func Install(tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
}
