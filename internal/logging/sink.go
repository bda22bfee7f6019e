package logging

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/orchestrator"
)

// EventSink writes orchestrator events as log lines.
type EventSink struct {
	log *Logger
}

var _ orchestrator.Sink = (*EventSink)(nil)

// NewEventSink returns a sink logging to l under the "pipeline" name.
func NewEventSink(l *Logger) *EventSink {
	return &EventSink{log: l.Named("pipeline")}
}

func (s *EventSink) Record(ctx context.Context, stage handoff.Stage, event string, fields map[string]any) {
	runID, _ := fields["run_id"].(string)
	traceID, _ := fields["trace_id"].(string)
	ctx = WithRun(ctx, runID, traceID)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "run_id" && k != "trace_id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	zf := make([]zap.Field, 0, len(keys)+1)
	zf = append(zf, zap.String("stage", string(stage)))
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}

	switch event {
	case orchestrator.EventFailed:
		s.log.Error(ctx, event, zf...)
	case orchestrator.EventForced, orchestrator.EventEscalated, orchestrator.EventStageError, orchestrator.EventValidationSlow:
		s.log.Warn(ctx, event, zf...)
	case orchestrator.EventStageStarted, orchestrator.EventValidated:
		s.log.Debug(ctx, event, zf...)
	default:
		s.log.Info(ctx, event, zf...)
	}
}
