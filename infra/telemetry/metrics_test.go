package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetricsRecordToReader(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.EventAppended(ctx, "TASK_ATTEMPT_FINISHED", 3*time.Millisecond)
	m.EventAppended(ctx, "TASK_ATTEMPT_FINISHED", time.Millisecond)
	m.ReplayWarning(ctx, "truncated")
	m.Exported(ctx, 5)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	sums := map[string]int64{}
	for _, md := range rm.ScopeMetrics[0].Metrics {
		if s, ok := md.Data.(metricdata.Sum[int64]); ok {
			for _, dp := range s.DataPoints {
				sums[md.Name] += dp.Value
			}
		}
		if h, ok := md.Data.(metricdata.Histogram[float64]); ok {
			require.Len(t, h.DataPoints, 1)
			assert.Equal(t, uint64(2), h.DataPoints[0].Count)
			assert.InDelta(t, 4.0, h.DataPoints[0].Sum, 1e-9)
		}
	}
	assert.Equal(t, int64(2), sums["history.events.appended"])
	assert.Equal(t, int64(1), sums["history.replay.warnings"])
	assert.Equal(t, int64(5), sums["history.export.published"])
}

func TestMetricsOnNoopProvider(t *testing.T) {
	m, err := New(noop.NewMeterProvider())
	require.NoError(t, err)
	ctx := context.Background()
	m.AppendFailed(ctx, "sink")
	m.Anomaly(ctx, "missing_created")
	m.EventReplayed(ctx, "TASK_STARTED")
	m.ExportFailed(ctx)

	assert.NotNil(t, Nop())
}
