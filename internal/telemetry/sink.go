package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsSink is the capability interface for the optional metrics
// backend. The default is a no-op; callers never check for nil.
type MetricsSink interface {
	// RecordRun emits datapoints for one invocation.
	RecordRun(ctx context.Context, rec Record)

	// Shutdown flushes pending datapoints.
	Shutdown(ctx context.Context) error
}

// NopSink discards all datapoints.
type NopSink struct{}

func (NopSink) RecordRun(ctx context.Context, rec Record) {}

func (NopSink) Shutdown(ctx context.Context) error { return nil }

// OTelSink forwards run metrics through an OpenTelemetry meter: a run
// counter and a duration histogram, tagged by target, strategy, and
// skip reason. Disabled by default; wired in only when configured.
type OTelSink struct {
	provider *sdkmetric.MeterProvider
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// NewOTelSink builds a sink backed by the stdout metric exporter.
func NewOTelSink() (*OTelSink, error) {
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	meter := provider.Meter("scopeguard")

	runs, err := meter.Int64Counter(
		"scopeguard_runs_total",
		metric.WithDescription("Total scope resolution runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runs_total: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"scopeguard_run_duration_seconds",
		metric.WithDescription("Scope resolution and execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, fmt.Errorf("create run_duration: %w", err)
	}

	return &OTelSink{provider: provider, runs: runs, duration: duration}, nil
}

// RecordRun implements MetricsSink.
func (s *OTelSink) RecordRun(ctx context.Context, rec Record) {
	attrs := metric.WithAttributes(
		attribute.String("target", rec.Target),
		attribute.String("strategy", rec.Strategy),
		attribute.String("reason", rec.Reason),
		attribute.Bool("skipped", rec.Skipped),
	)
	s.runs.Add(ctx, 1, attrs)
	s.duration.Record(ctx, float64(rec.DurationMs)/1000.0, attrs)
}

// Shutdown implements MetricsSink.
func (s *OTelSink) Shutdown(ctx context.Context) error {
	return s.provider.Shutdown(ctx)
}
