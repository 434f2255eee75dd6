// Package telemetry holds the OpenTelemetry instruments of the history
// subsystem. Without an installed SDK the global meter provider is a
// no-op and recording costs next to nothing.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "dagrecovery/history"

// Metrics records append, replay and export activity.
type Metrics struct {
	appended       metric.Int64Counter
	appendFailures metric.Int64Counter
	appendLatency  metric.Float64Histogram
	replayed       metric.Int64Counter
	replayWarnings metric.Int64Counter
	anomalies      metric.Int64Counter
	exported       metric.Int64Counter
	exportFailures metric.Int64Counter
}

// New creates the instruments on mp, or on the global provider when mp
// is nil.
func New(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	var (
		m   Metrics
		err error
	)
	if m.appended, err = meter.Int64Counter("history.events.appended",
		metric.WithDescription("Events durably appended to the history log")); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if m.appendFailures, err = meter.Int64Counter("history.events.append_failures",
		metric.WithDescription("Appends rejected by the codec or the sink")); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if m.appendLatency, err = meter.Float64Histogram("history.append.duration",
		metric.WithDescription("Time from Emit to durable append"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if m.replayed, err = meter.Int64Counter("history.events.replayed",
		metric.WithDescription("Events folded into the reconstruction table")); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if m.replayWarnings, err = meter.Int64Counter("history.replay.warnings",
		metric.WithDescription("Skipped frames and truncated tails met during replay")); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if m.anomalies, err = meter.Int64Counter("history.reconstruct.anomalies",
		metric.WithDescription("Anomalies raised while reconstructing entities")); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if m.exported, err = meter.Int64Counter("history.export.published",
		metric.WithDescription("Frames published to the audit stream")); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if m.exportFailures, err = meter.Int64Counter("history.export.failures",
		metric.WithDescription("Failed audit publishes")); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return &m, nil
}

// Nop returns Metrics backed by the global provider, ignoring errors.
// The global provider's instruments never fail to create.
func Nop() *Metrics {
	m, err := New(nil)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) EventAppended(ctx context.Context, eventType string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("event_type", eventType))
	m.appended.Add(ctx, 1, attrs)
	m.appendLatency.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}

func (m *Metrics) AppendFailed(ctx context.Context, reason string) {
	m.appendFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) EventReplayed(ctx context.Context, eventType string) {
	m.replayed.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *Metrics) ReplayWarning(ctx context.Context, kind string) {
	m.replayWarnings.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) Anomaly(ctx context.Context, kind string) {
	m.anomalies.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) Exported(ctx context.Context, n int) {
	m.exported.Add(ctx, int64(n))
}

func (m *Metrics) ExportFailed(ctx context.Context) {
	m.exportFailures.Add(ctx, 1)
}
