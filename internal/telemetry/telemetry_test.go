package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/orchestrator"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "mailgate", "test", true)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Meter("mailgate"))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsFromEvents(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.Record(ctx, handoff.StageContent, orchestrator.EventValidated, map[string]any{
		"transition": "Content->Design", "valid": false, "duration_ms": 1.2,
	})
	m.Record(ctx, handoff.StageContent, orchestrator.EventValidated, map[string]any{
		"transition": "Content->Design", "valid": true, "duration_ms": 0.8,
	})
	m.Record(ctx, handoff.StageContent, orchestrator.EventCorrected, map[string]any{"success": true})
	m.Record(ctx, handoff.StageQuality, orchestrator.EventScored, map[string]any{"overall": 82, "gate_passed": true})
	m.Record(ctx, handoff.StageContent, orchestrator.EventImproving, nil)
	m.Record(ctx, handoff.StageContent, orchestrator.EventAdvanced, nil)
	m.Record(ctx, handoff.StageDelivery, orchestrator.EventCompleted, map[string]any{"warning": false})
	m.Record(ctx, handoff.StageDesign, orchestrator.EventStageStarted, nil)

	got := collect(t, reader)
	assert.EqualValues(t, 2, sumOf(t, got["mailgate.validations"]))
	assert.EqualValues(t, 1, sumOf(t, got["mailgate.corrections"]))
	assert.EqualValues(t, 2, sumOf(t, got["mailgate.decisions"]))
	assert.EqualValues(t, 1, sumOf(t, got["mailgate.runs"]))

	hist, ok := got["mailgate.validation.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.EqualValues(t, 2, hist.DataPoints[0].Count)

	gate, ok := got["mailgate.quality.overall"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, gate.DataPoints, 1)
	assert.EqualValues(t, 82, gate.DataPoints[0].Sum)
}
