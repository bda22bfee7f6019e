package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/orchestrator"
)

// Metrics turns orchestrator events into OTEL instruments.
type Metrics struct {
	validations metric.Int64Counter
	validation  metric.Float64Histogram
	corrections metric.Int64Counter
	gateScore   metric.Int64Histogram
	decisions   metric.Int64Counter
	runs        metric.Int64Counter
}

var _ orchestrator.Sink = (*Metrics)(nil)

// NewMetrics registers the pipeline instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error
	if m.validations, err = meter.Int64Counter("mailgate.validations",
		metric.WithDescription("Handoff validations by transition and outcome")); err != nil {
		return nil, fmt.Errorf("telemetry: validations counter: %w", err)
	}
	if m.validation, err = meter.Float64Histogram("mailgate.validation.duration",
		metric.WithDescription("Validation wall time"), metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("telemetry: validation histogram: %w", err)
	}
	if m.corrections, err = meter.Int64Counter("mailgate.corrections",
		metric.WithDescription("Correction passes by success")); err != nil {
		return nil, fmt.Errorf("telemetry: corrections counter: %w", err)
	}
	if m.gateScore, err = meter.Int64Histogram("mailgate.quality.overall",
		metric.WithDescription("Overall quality gate score")); err != nil {
		return nil, fmt.Errorf("telemetry: gate histogram: %w", err)
	}
	if m.decisions, err = meter.Int64Counter("mailgate.decisions",
		metric.WithDescription("Orchestrator decisions by stage")); err != nil {
		return nil, fmt.Errorf("telemetry: decisions counter: %w", err)
	}
	if m.runs, err = meter.Int64Counter("mailgate.runs",
		metric.WithDescription("Finished runs by outcome")); err != nil {
		return nil, fmt.Errorf("telemetry: runs counter: %w", err)
	}
	return &m, nil
}

func (m *Metrics) Record(ctx context.Context, stage handoff.Stage, event string, fields map[string]any) {
	stageAttr := attribute.String("stage", string(stage))
	switch event {
	case orchestrator.EventValidated:
		transition, _ := fields["transition"].(string)
		valid, _ := fields["valid"].(bool)
		attrs := metric.WithAttributes(attribute.String("transition", transition), attribute.Bool("valid", valid))
		m.validations.Add(ctx, 1, attrs)
		if ms, ok := handoff.ToFloat(fields["duration_ms"]); ok {
			m.validation.Record(ctx, ms, metric.WithAttributes(attribute.String("transition", transition)))
		}
	case orchestrator.EventCorrected:
		success, _ := fields["success"].(bool)
		m.corrections.Add(ctx, 1, metric.WithAttributes(stageAttr, attribute.Bool("success", success)))
	case orchestrator.EventScored:
		if overall, ok := handoff.ToFloat(fields["overall"]); ok {
			passed, _ := fields["gate_passed"].(bool)
			m.gateScore.Record(ctx, int64(overall), metric.WithAttributes(attribute.Bool("gate_passed", passed)))
		}
	case orchestrator.EventAdvanced, orchestrator.EventForced, orchestrator.EventImproving:
		m.decisions.Add(ctx, 1, metric.WithAttributes(stageAttr, attribute.String("decision", event)))
	case orchestrator.EventCompleted, orchestrator.EventFailed:
		warning, _ := fields["warning"].(bool)
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", event), attribute.Bool("warning", warning)))
	}
}
