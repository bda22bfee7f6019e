package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lucasnoah/mailgate/internal/fixtures"
	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/orchestrator"
	"github.com/lucasnoah/mailgate/internal/schema"
	"github.com/lucasnoah/mailgate/internal/validator"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMigrate(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// Verify all tables exist
	tables := []string{"schema_version", "pipeline_events", "validation_runs", "validation_errors", "gate_runs"}
	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var version int
	if err := d.conn.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	// Migrate again should be idempotent
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()
	if d.Path() != path {
		t.Errorf("Path = %q, want %q", d.Path(), path)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)

	if err := d.LogPipelineEvent(PipelineEvent{RunID: "r1", Event: "created"}); err != nil {
		t.Fatalf("log event: %v", err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	events, err := d.GetPipelineEvents("r1")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 events after reset, got %d", len(events))
	}
}

func TestPipelineEvents(t *testing.T) {
	d := testDB(t)

	for _, ev := range []string{"created", "validated", "advanced"} {
		if err := d.LogPipelineEvent(PipelineEvent{RunID: "r1", TraceID: "t1", Stage: "DataCollection", Event: ev, Detail: `{"k":1}`}); err != nil {
			t.Fatalf("log %s: %v", ev, err)
		}
	}
	if err := d.LogPipelineEvent(PipelineEvent{RunID: "r2", Event: "created"}); err != nil {
		t.Fatalf("log other run: %v", err)
	}

	events, err := d.GetPipelineEvents("r1")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Event != "created" || events[2].Event != "advanced" {
		t.Errorf("events out of order: %v", events)
	}
	if events[1].Detail != `{"k":1}` {
		t.Errorf("Detail = %q", events[1].Detail)
	}
	if events[0].Timestamp == "" {
		t.Error("Timestamp should default")
	}
}

func TestValidationRuns(t *testing.T) {
	d := testDB(t)

	err := d.LogValidationRun(ValidationRun{
		RunID:      "r1",
		Stage:      "Content",
		Transition: "Content->Design",
		IsValid:    false,
		ErrorCount: 2,
		DurationMs: 1.5,
		Fields:     []string{"content_package.complete_content.subject", "trace_id"},
	})
	if err != nil {
		t.Fatalf("log validation run: %v", err)
	}
	if err := d.LogValidationRun(ValidationRun{RunID: "r1", Stage: "Content", Transition: "Content->Design", Iteration: 1, IsValid: true}); err != nil {
		t.Fatalf("log validation run: %v", err)
	}

	runs, err := d.GetValidationRuns("r1")
	if err != nil {
		t.Fatalf("get validation runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].IsValid || runs[0].ErrorCount != 2 || runs[0].DurationMs != 1.5 {
		t.Errorf("unexpected first run: %+v", runs[0])
	}
	if len(runs[0].Fields) != 2 || runs[0].Fields[1] != "trace_id" {
		t.Errorf("Fields = %v", runs[0].Fields)
	}
	if !runs[1].IsValid || runs[1].Iteration != 1 || len(runs[1].Fields) != 0 {
		t.Errorf("unexpected second run: %+v", runs[1])
	}
}

func TestGateRuns(t *testing.T) {
	d := testDB(t)

	err := d.LogGateRun(GateRun{
		RunID:         "r1",
		Overall:       64,
		CriticalCount: 1,
		Dimensions:    map[string]float64{"html": 40, "spam": 90},
	})
	if err != nil {
		t.Fatalf("log gate run: %v", err)
	}
	if err := d.LogGateRun(GateRun{RunID: "r1", Iteration: 1, Overall: 88, GatePassed: true}); err != nil {
		t.Fatalf("log gate run: %v", err)
	}

	runs, err := d.GetGateRuns("r1")
	if err != nil {
		t.Fatalf("get gate runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 gate runs, got %d", len(runs))
	}
	if runs[0].Overall != 64 || runs[0].GatePassed || runs[0].Dimensions["html"] != 40 {
		t.Errorf("unexpected first gate run: %+v", runs[0])
	}
	if !runs[1].GatePassed || runs[1].Dimensions != nil {
		t.Errorf("unexpected second gate run: %+v", runs[1])
	}
}

func TestEventSinkRecordsRun(t *testing.T) {
	d := testDB(t)
	var sinkErrs []error
	sink := NewEventSink(d, func(err error) { sinkErrs = append(sinkErrs, err) })

	deps := orchestrator.Deps{
		Validator: validator.New(schema.Default()),
		Evaluator: fixedEvaluator{score: handoff.QualityScore{
			Overall:    91,
			GatePassed: true,
			Dimensions: []handoff.DimensionScore{{Dimension: "html", Score: 95, Passed: true}},
		}},
		Sink: sink,
	}
	o, err := orchestrator.Start(context.Background(), deps, orchestrator.DefaultConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	collab := orchestrator.CollaboratorFunc(func(_ context.Context, req orchestrator.StageRequest) (handoff.Payload, error) {
		return fixtures.ForStage(req.Stage, req.TraceID), nil
	})
	run, err := o.Execute(context.Background(), collab)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if sink.Err() != nil || len(sinkErrs) != 0 {
		t.Fatalf("sink errors: %v %v", sink.Err(), sinkErrs)
	}

	events, err := d.GetPipelineEvents(run.RunID)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if events[0].Event != orchestrator.EventCreated {
		t.Errorf("first event = %q, want created", events[0].Event)
	}
	if last := events[len(events)-1]; last.Event != orchestrator.EventCompleted || last.TraceID != run.TraceID {
		t.Errorf("last event = %+v", last)
	}

	vruns, err := d.GetValidationRuns(run.RunID)
	if err != nil {
		t.Fatalf("get validation runs: %v", err)
	}
	if len(vruns) != 4 {
		t.Errorf("expected 4 validation runs, got %d", len(vruns))
	}
	gruns, err := d.GetGateRuns(run.RunID)
	if err != nil {
		t.Fatalf("get gate runs: %v", err)
	}
	if len(gruns) != 1 || gruns[0].Overall != 91 || gruns[0].Dimensions["html"] != 95 {
		t.Errorf("unexpected gate runs: %+v", gruns)
	}
}

func TestEventSinkReportsWriteErrors(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()
	// No Migrate: every insert fails.
	var calls int
	sink := NewEventSink(d, func(error) { calls++ })
	sink.Record(context.Background(), handoff.StageContent, orchestrator.EventValidated, map[string]any{"run_id": "r1"})
	if sink.Err() == nil {
		t.Fatal("expected sink error")
	}
	if calls != 2 {
		t.Errorf("expected 2 failed writes, got %d", calls)
	}
	if errors.Unwrap(sink.Err()) == nil {
		t.Error("expected wrapped driver error")
	}
}

type fixedEvaluator struct{ score handoff.QualityScore }

func (f fixedEvaluator) Evaluate(context.Context, handoff.Payload) handoff.QualityScore {
	return f.score
}
