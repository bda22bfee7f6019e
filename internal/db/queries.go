package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// PipelineEvent represents a row in the pipeline_events table.
type PipelineEvent struct {
	ID        int
	RunID     string
	TraceID   string
	Stage     string
	Event     string
	State     string
	Detail    string
	Timestamp string
}

// ValidationRun represents a row in the validation_runs table plus its
// failing fields.
type ValidationRun struct {
	ID           int
	RunID        string
	Stage        string
	Transition   string
	Iteration    int
	IsValid      bool
	ErrorCount   int
	WarningCount int
	DurationMs   float64
	Fields       []string
	Timestamp    string
}

// GateRun represents a row in the gate_runs table.
type GateRun struct {
	ID            int
	RunID         string
	Iteration     int
	Overall       int
	GatePassed    bool
	CriticalCount int
	Dimensions    map[string]float64
	Timestamp     string
}

// LogPipelineEvent inserts a pipeline event.
func (d *DB) LogPipelineEvent(e PipelineEvent) error {
	_, err := d.conn.Exec(
		`INSERT INTO pipeline_events (run_id, trace_id, stage, event, state, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.TraceID, e.Stage, e.Event, e.State, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// GetPipelineEvents returns all events for a run in insertion order.
func (d *DB) GetPipelineEvents(runID string) ([]PipelineEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, trace_id, stage, event, state, detail, timestamp
		 FROM pipeline_events WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get pipeline events: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.TraceID, &e.Stage, &e.Event, &e.State, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LogValidationRun inserts a validation outcome and its failing fields in
// one transaction.
func (d *DB) LogValidationRun(v ValidationRun) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO validation_runs (run_id, stage, transition, iteration, is_valid, error_count, warning_count, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.RunID, v.Stage, v.Transition, v.Iteration, v.IsValid, v.ErrorCount, v.WarningCount, v.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("log validation run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("validation run id: %w", err)
	}
	for _, f := range v.Fields {
		if _, err := tx.Exec(`INSERT INTO validation_errors (validation_run_id, field) VALUES (?, ?)`, id, f); err != nil {
			return fmt.Errorf("log validation field %s: %w", f, err)
		}
	}
	return tx.Commit()
}

// GetValidationRuns returns a run's validation outcomes in insertion order.
func (d *DB) GetValidationRuns(runID string) ([]ValidationRun, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, stage, transition, iteration, is_valid, error_count, warning_count, duration_ms, timestamp
		 FROM validation_runs WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get validation runs: %w", err)
	}
	defer rows.Close()

	var runs []ValidationRun
	for rows.Next() {
		var v ValidationRun
		if err := rows.Scan(&v.ID, &v.RunID, &v.Stage, &v.Transition, &v.Iteration, &v.IsValid, &v.ErrorCount, &v.WarningCount, &v.DurationMs, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("scan validation run: %w", err)
		}
		runs = append(runs, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range runs {
		fields, err := d.validationFields(runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Fields = fields
	}
	return runs, nil
}

func (d *DB) validationFields(id int) ([]string, error) {
	rows, err := d.conn.Query(`SELECT field FROM validation_errors WHERE validation_run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("get validation fields: %w", err)
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("scan validation field: %w", err)
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// LogGateRun inserts a quality gate outcome.
func (d *DB) LogGateRun(g GateRun) error {
	var dims []byte
	if len(g.Dimensions) > 0 {
		var err error
		if dims, err = json.Marshal(g.Dimensions); err != nil {
			return fmt.Errorf("marshal dimensions: %w", err)
		}
	}
	_, err := d.conn.Exec(
		`INSERT INTO gate_runs (run_id, iteration, overall, gate_passed, critical_count, dimensions) VALUES (?, ?, ?, ?, ?, ?)`,
		g.RunID, g.Iteration, g.Overall, g.GatePassed, g.CriticalCount, string(dims),
	)
	if err != nil {
		return fmt.Errorf("log gate run: %w", err)
	}
	return nil
}

// GetGateRuns returns a run's gate outcomes in insertion order.
func (d *DB) GetGateRuns(runID string) ([]GateRun, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, iteration, overall, gate_passed, critical_count, dimensions, timestamp
		 FROM gate_runs WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get gate runs: %w", err)
	}
	defer rows.Close()

	var runs []GateRun
	for rows.Next() {
		var g GateRun
		var dims sql.NullString
		if err := rows.Scan(&g.ID, &g.RunID, &g.Iteration, &g.Overall, &g.GatePassed, &g.CriticalCount, &dims, &g.Timestamp); err != nil {
			return nil, fmt.Errorf("scan gate run: %w", err)
		}
		if dims.Valid && dims.String != "" {
			if err := json.Unmarshal([]byte(dims.String), &g.Dimensions); err != nil {
				return nil, fmt.Errorf("unmarshal dimensions: %w", err)
			}
		}
		runs = append(runs, g)
	}
	return runs, rows.Err()
}
