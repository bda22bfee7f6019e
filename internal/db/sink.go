package db

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/orchestrator"
)

// EventSink records orchestrator events in the database. validated and
// scored events are additionally written to validation_runs and gate_runs.
type EventSink struct {
	db      *DB
	onError func(error)

	mu  sync.Mutex
	err error
}

var _ orchestrator.Sink = (*EventSink)(nil)

// NewEventSink returns a sink over d. onError, if non-nil, is called for
// every failed write; Err always reports the first one.
func NewEventSink(d *DB, onError func(error)) *EventSink {
	return &EventSink{db: d, onError: onError}
}

// Err returns the first write error, if any.
func (s *EventSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *EventSink) Record(_ context.Context, stage handoff.Stage, event string, fields map[string]any) {
	runID, _ := fields["run_id"].(string)
	traceID, _ := fields["trace_id"].(string)
	state, _ := fields["state"].(string)

	detail, err := json.Marshal(fields)
	if err != nil {
		s.fail(err)
		return
	}
	s.fail(s.db.LogPipelineEvent(PipelineEvent{
		RunID:   runID,
		TraceID: traceID,
		Stage:   string(stage),
		Event:   event,
		State:   state,
		Detail:  string(detail),
	}))

	switch event {
	case orchestrator.EventValidated:
		transition, _ := fields["transition"].(string)
		valid, _ := fields["valid"].(bool)
		failing, _ := fields["fields"].([]string)
		s.fail(s.db.LogValidationRun(ValidationRun{
			RunID:        runID,
			Stage:        string(stage),
			Transition:   transition,
			Iteration:    intField(fields, "iteration"),
			IsValid:      valid,
			ErrorCount:   intField(fields, "errors"),
			WarningCount: intField(fields, "warnings"),
			DurationMs:   floatField(fields, "duration_ms"),
			Fields:       failing,
		}))
	case orchestrator.EventScored:
		passed, _ := fields["gate_passed"].(bool)
		dims, _ := fields["dimensions"].(map[string]float64)
		s.fail(s.db.LogGateRun(GateRun{
			RunID:         runID,
			Iteration:     intField(fields, "iteration"),
			Overall:       intField(fields, "overall"),
			GatePassed:    passed,
			CriticalCount: intField(fields, "critical"),
			Dimensions:    dims,
		}))
	}
}

func (s *EventSink) fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	if s.onError != nil {
		s.onError(err)
	}
}

func intField(fields map[string]any, key string) int {
	return int(floatField(fields, key))
}

func floatField(fields map[string]any, key string) float64 {
	f, _ := handoff.ToFloat(fields[key])
	return f
}
