// Package pgstore is a PostgreSQL implementation of the orchestrator's run
// store, for deployments that share run state between workers.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/orchestrator"
)

// DB wraps a pgxpool.Pool.
type DB struct {
	pool *pgxpool.Pool
}

var _ orchestrator.Store = (*DB)(nil)

// New connects to dsn and verifies the connection.
func New(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close shuts down the pool.
func (db *DB) Close() {
	db.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS mailgate_runs (
    run_id          TEXT PRIMARY KEY,
    trace_id        TEXT NOT NULL,
    current_stage   TEXT NOT NULL,
    state           TEXT NOT NULL,
    iteration_count INTEGER NOT NULL DEFAULT 0,
    max_retries     INTEGER NOT NULL,
    status          TEXT NOT NULL,
    warning         BOOLEAN NOT NULL DEFAULT FALSE,
    warnings        TEXT[] NOT NULL DEFAULT '{}',
    feedback        TEXT[] NOT NULL DEFAULT '{}',
    last_score      JSONB,
    failure_reason  TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);

ALTER TABLE mailgate_runs ADD COLUMN IF NOT EXISTS feedback TEXT[] NOT NULL DEFAULT '{}';
ALTER TABLE mailgate_runs ADD COLUMN IF NOT EXISTS last_score JSONB;

CREATE TABLE IF NOT EXISTS mailgate_records (
    run_id            TEXT NOT NULL REFERENCES mailgate_runs(run_id) ON DELETE CASCADE,
    seq               INTEGER NOT NULL,
    trace_id          TEXT NOT NULL,
    stage_from        TEXT NOT NULL,
    stage_to          TEXT NOT NULL,
    payload           JSONB NOT NULL,
    validation_result JSONB NOT NULL,
    quality_score     JSONB,
    forced            BOOLEAN NOT NULL DEFAULT FALSE,
    content_hash      TEXT NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, seq)
);
`

// Migrate creates the tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

// CreateRun inserts a new run.
func (db *DB) CreateRun(ctx context.Context, run handoff.PipelineRun) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO mailgate_runs (run_id, trace_id, current_stage, state, iteration_count, max_retries,
		     status, warning, warnings, feedback, last_score, failure_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		run.RunID, run.TraceID, string(run.CurrentStage), string(run.State), run.IterationCount, run.MaxRetries,
		string(run.Status), run.Warning, nonNil(run.Warnings), nonNil(run.Feedback), run.LastScore,
		run.FailureReason, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("pgstore: create run: %w", err)
	}
	return nil
}

// SaveRun updates an existing run.
func (db *DB) SaveRun(ctx context.Context, run handoff.PipelineRun) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE mailgate_runs SET current_stage = $2, state = $3, iteration_count = $4, status = $5,
		     warning = $6, warnings = $7, feedback = $8, last_score = $9, failure_reason = $10, updated_at = $11
		 WHERE run_id = $1`,
		run.RunID, string(run.CurrentStage), string(run.State), run.IterationCount, string(run.Status),
		run.Warning, nonNil(run.Warnings), nonNil(run.Feedback), run.LastScore, run.FailureReason, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("pgstore: save run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: run %s: %w", run.RunID, handoff.ErrNotFound)
	}
	return nil
}

// nonNil keeps NOT NULL array columns from receiving SQL NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

const runColumns = `run_id, trace_id, current_stage, state, iteration_count, max_retries,
	status, warning, warnings, feedback, last_score, failure_reason, created_at, updated_at`

func scanRun(row pgx.Row) (handoff.PipelineRun, error) {
	var r handoff.PipelineRun
	err := row.Scan(
		&r.RunID, &r.TraceID, &r.CurrentStage, &r.State, &r.IterationCount, &r.MaxRetries,
		&r.Status, &r.Warning, &r.Warnings, &r.Feedback, &r.LastScore, &r.FailureReason, &r.CreatedAt, &r.UpdatedAt,
	)
	if len(r.Warnings) == 0 {
		r.Warnings = nil
	}
	if len(r.Feedback) == 0 {
		r.Feedback = nil
	}
	return r, err
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, runID string) (handoff.PipelineRun, error) {
	run, err := scanRun(db.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM mailgate_runs WHERE run_id = $1`, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return handoff.PipelineRun{}, fmt.Errorf("pgstore: run %s: %w", runID, handoff.ErrNotFound)
		}
		return handoff.PipelineRun{}, fmt.Errorf("pgstore: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, optionally filtered by status.
func (db *DB) ListRuns(ctx context.Context, status handoff.RunStatus, limit int) ([]handoff.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM mailgate_runs
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC
		 LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list runs: %w", err)
	}
	defer rows.Close()

	var runs []handoff.PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// AppendRecord inserts rec. The (run_id, seq) key makes records immutable.
func (db *DB) AppendRecord(ctx context.Context, rec handoff.HandoffRecord) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO mailgate_records (run_id, seq, trace_id, stage_from, stage_to, payload,
		     validation_result, quality_score, forced, content_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.RunID, rec.Seq, rec.TraceID, string(rec.StageFrom), string(rec.StageTo), rec.Payload,
		rec.ValidationResult, rec.QualityScore, rec.Forced, rec.ContentHash, rec.Timestamp,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return fmt.Errorf("pgstore: record %s/%d already exists", rec.RunID, rec.Seq)
			case "23503":
				return fmt.Errorf("pgstore: run %s: %w", rec.RunID, handoff.ErrNotFound)
			}
		}
		return fmt.Errorf("pgstore: append record: %w", err)
	}
	return nil
}

// Records returns a run's records in sequence order.
func (db *DB) Records(ctx context.Context, runID string) ([]handoff.HandoffRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT run_id, seq, trace_id, stage_from, stage_to, payload, validation_result,
		     quality_score, forced, content_hash, created_at
		 FROM mailgate_records WHERE run_id = $1 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore: records: %w", err)
	}
	defer rows.Close()

	var records []handoff.HandoffRecord
	for rows.Next() {
		var r handoff.HandoffRecord
		if err := rows.Scan(
			&r.RunID, &r.Seq, &r.TraceID, &r.StageFrom, &r.StageTo, &r.Payload, &r.ValidationResult,
			&r.QualityScore, &r.Forced, &r.ContentHash, &r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("pgstore: scan record: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}
