package metrics

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	r, err := New(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	r.Sample(ctx, "accepted")
	r.Sample(ctx, "accepted")
	r.Sample(ctx, "low_confidence")
	r.Dwell(ctx, "button")
	r.Calibration(ctx, "complete", 3*time.Millisecond)
	r.Calibration(ctx, "skipped", 0)

	got := collect(t, reader)

	samples, ok := got["gaze.samples"].(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range samples.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
	assert.Len(t, samples.DataPoints, 2)

	calibrations := got["gaze.calibrations"].(metricdata.Sum[int64])
	assert.Len(t, calibrations.DataPoints, 2)

	hist, ok := got["gaze.fit.duration_ms"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 3.0, hist.DataPoints[0].Sum, 1e-9)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Sample(context.Background(), "accepted")
		r.Dwell(context.Background(), "a")
		r.Calibration(context.Background(), "complete", time.Second)
	})
	assert.NotNil(t, Global())
}
