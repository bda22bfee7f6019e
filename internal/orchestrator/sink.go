package orchestrator

import (
	"context"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

// Sink receives structured pipeline events. Implementations must not block
// for long and must tolerate concurrent calls from different runs.
type Sink interface {
	Record(ctx context.Context, stage handoff.Stage, event string, fields map[string]any)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Record(context.Context, handoff.Stage, string, map[string]any) {}

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, stage handoff.Stage, event string, fields map[string]any) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, stage, event, fields)
		}
	}
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, stage handoff.Stage, event string, fields map[string]any)

func (f SinkFunc) Record(ctx context.Context, stage handoff.Stage, event string, fields map[string]any) {
	f(ctx, stage, event, fields)
}

// Event names emitted by the orchestrator.
const (
	EventCreated        = "created"
	EventStageStarted   = "stage_started"
	EventStageError     = "stage_error"
	EventValidated      = "validated"
	EventValidationSlow = "validation_slow"
	EventCorrected      = "corrected"
	EventScored         = "scored"
	EventEscalated      = "escalated"
	EventImproving      = "improving"
	EventAdvanced       = "advanced"
	EventForced         = "forced"
	EventCompleted      = "completed"
	EventFailed         = "failed"
)
