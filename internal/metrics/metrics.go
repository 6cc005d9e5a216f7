// Package metrics records tracker instruments through OpenTelemetry. Without
// a configured MeterProvider the global no-op provider is used.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "gaze-tracer"

// Recorder holds the tracker instruments.
type Recorder struct {
	samples      metric.Int64Counter
	dwellEvents  metric.Int64Counter
	calibrations metric.Int64Counter
	fitDuration  metric.Float64Histogram
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Recorder, error) {
	var r Recorder
	var err error

	r.samples, err = meter.Int64Counter("gaze.samples",
		metric.WithDescription("Gaze samples received, by filter outcome"),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return nil, err
	}
	r.dwellEvents, err = meter.Int64Counter("gaze.dwell.events",
		metric.WithDescription("Dwell events emitted"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	r.calibrations, err = meter.Int64Counter("gaze.calibrations",
		metric.WithDescription("Calibration sessions finished, by outcome"),
		metric.WithUnit("{calibration}"),
	)
	if err != nil {
		return nil, err
	}
	r.fitDuration, err = meter.Float64Histogram("gaze.fit.duration_ms",
		metric.WithDescription("Calibration fit duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 25, 50, 100, 250),
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Global creates the instruments on the global meter provider.
func Global() *Recorder {
	r, err := New(otel.Meter(instrumentationName))
	if err != nil {
		// The global provider only fails on invalid instrument names.
		panic(err)
	}
	return r
}

// Sample counts one sample with its filter outcome.
func (r *Recorder) Sample(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.samples.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Dwell counts an emitted dwell event.
func (r *Recorder) Dwell(ctx context.Context, elementType string) {
	if r == nil {
		return
	}
	r.dwellEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("element", elementType)))
}

// Calibration counts a finished calibration and, when a fit ran, its duration.
func (r *Recorder) Calibration(ctx context.Context, outcome string, fit time.Duration) {
	if r == nil {
		return
	}
	r.calibrations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if fit > 0 {
		r.fitDuration.Record(ctx, float64(fit.Microseconds())/1000)
	}
}
