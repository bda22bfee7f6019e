// Package analytics aggregates the event log into pipeline health numbers:
// first-pass validation rates, the fields that fail most, quality gate
// scores and stage durations.
package analytics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// timestamp formats to try when parsing timestamps from the database
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

func sinceClause(query string, column string, since string, args []any) (string, []any) {
	if since == "" {
		return query, args
	}
	return query + ` AND ` + column + ` >= ?`, append(args, since)
}

// TransitionRate holds first-pass validation stats for one transition.
type TransitionRate struct {
	Transition string  `json:"transition"`
	Total      int     `json:"total"`
	FirstPass  int     `json:"first_pass"`
	Pct        float64 `json:"first_pass_pct"`
	AvgMs      float64 `json:"avg_duration_ms"`
}

// QueryFirstPassRates returns, per transition, how many first attempts
// (iteration 0) validated without errors.
func QueryFirstPassRates(database DB, since string) ([]TransitionRate, error) {
	query, args := sinceClause(`
		SELECT transition,
			COUNT(*) as total,
			SUM(CASE WHEN is_valid THEN 1 ELSE 0 END) as first_pass,
			AVG(duration_ms)
		FROM validation_runs
		WHERE iteration = 0`, "timestamp", since, nil)
	query += ` GROUP BY transition ORDER BY transition`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query first pass rates: %w", err)
	}
	defer rows.Close()

	var results []TransitionRate
	for rows.Next() {
		var r TransitionRate
		var avgMs sql.NullFloat64
		if err := rows.Scan(&r.Transition, &r.Total, &r.FirstPass, &avgMs); err != nil {
			return nil, fmt.Errorf("scan first pass rate: %w", err)
		}
		r.Pct = pct(r.FirstPass, r.Total)
		if avgMs.Valid {
			r.AvgMs = math.Round(avgMs.Float64*10) / 10
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// FieldFailure counts how often a field failed validation.
type FieldFailure struct {
	Field       string `json:"field"`
	Transition  string `json:"transition"`
	Occurrences int    `json:"occurrences"`
	Runs        int    `json:"runs"`
}

// QueryTopFailingFields returns the fields that failed most often, most
// frequent first. limit <= 0 returns all.
func QueryTopFailingFields(database DB, since string, limit int) ([]FieldFailure, error) {
	query, args := sinceClause(`
		SELECT ve.field, vr.transition, COUNT(*) as occurrences, COUNT(DISTINCT vr.run_id) as runs
		FROM validation_errors ve
		JOIN validation_runs vr ON vr.id = ve.validation_run_id
		WHERE 1 = 1`, "vr.timestamp", since, nil)
	query += ` GROUP BY ve.field, vr.transition ORDER BY occurrences DESC, ve.field`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failing fields: %w", err)
	}
	defer rows.Close()

	var results []FieldFailure
	for rows.Next() {
		var f FieldFailure
		if err := rows.Scan(&f.Field, &f.Transition, &f.Occurrences, &f.Runs); err != nil {
			return nil, fmt.Errorf("scan failing field: %w", err)
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

// GateSummary describes quality gate outcomes.
type GateSummary struct {
	Evaluations int                `json:"evaluations"`
	Passed      int                `json:"passed"`
	PassPct     float64            `json:"pass_pct"`
	AvgOverall  float64            `json:"avg_overall"`
	P50         float64            `json:"p50_overall"`
	P95         float64            `json:"p95_overall"`
	Dimensions  map[string]float64 `json:"avg_dimensions"`
}

// QueryGateSummary aggregates every recorded gate evaluation.
func QueryGateSummary(database DB, since string) (GateSummary, error) {
	query, args := sinceClause(`SELECT overall, gate_passed, dimensions FROM gate_runs WHERE 1 = 1`, "timestamp", since, nil)
	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return GateSummary{}, fmt.Errorf("query gate summary: %w", err)
	}
	defer rows.Close()

	var s GateSummary
	var overall []float64
	dimSums := map[string][]float64{}
	for rows.Next() {
		var score int
		var passed bool
		var dims sql.NullString
		if err := rows.Scan(&score, &passed, &dims); err != nil {
			return GateSummary{}, fmt.Errorf("scan gate run: %w", err)
		}
		overall = append(overall, float64(score))
		if passed {
			s.Passed++
		}
		if dims.Valid && dims.String != "" {
			var m map[string]float64
			if err := json.Unmarshal([]byte(dims.String), &m); err != nil {
				continue // skip malformed rows
			}
			for k, v := range m {
				dimSums[k] = append(dimSums[k], v)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return GateSummary{}, err
	}

	sort.Float64s(overall)
	s.Evaluations = len(overall)
	s.PassPct = pct(s.Passed, s.Evaluations)
	s.AvgOverall = avg(overall)
	s.P50 = percentile(overall, 50)
	s.P95 = percentile(overall, 95)
	if len(dimSums) > 0 {
		s.Dimensions = make(map[string]float64, len(dimSums))
		for k, vs := range dimSums {
			s.Dimensions[k] = avg(vs)
		}
	}
	return s, nil
}

// RunOutcomes counts how runs ended.
type RunOutcomes struct {
	Started   int     `json:"started"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Forced    int     `json:"forced_handoffs"`
	Retries   int     `json:"retries"`
	DonePct   float64 `json:"completed_pct"`
}

// QueryRunOutcomes summarizes run lifecycle events.
func QueryRunOutcomes(database DB, since string) (RunOutcomes, error) {
	query, args := sinceClause(`
		SELECT event, COUNT(*) FROM pipeline_events
		WHERE event IN ('created', 'completed', 'failed', 'forced', 'improving')`, "timestamp", since, nil)
	query += ` GROUP BY event`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return RunOutcomes{}, fmt.Errorf("query run outcomes: %w", err)
	}
	defer rows.Close()

	var o RunOutcomes
	for rows.Next() {
		var event string
		var n int
		if err := rows.Scan(&event, &n); err != nil {
			return RunOutcomes{}, fmt.Errorf("scan run outcome: %w", err)
		}
		switch event {
		case "created":
			o.Started = n
		case "completed":
			o.Completed = n
		case "failed":
			o.Failed = n
		case "forced":
			o.Forced = n
		case "improving":
			o.Retries = n
		}
	}
	o.DonePct = pct(o.Completed, o.Started)
	return o, rows.Err()
}

// StageDuration holds duration stats for a stage, in seconds.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// QueryStageDurations returns average and percentile stage durations. Each
// advanced/forced event is paired with the first stage_started event of the
// same run and stage, so retries count toward the stage's time.
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	query, args := sinceClause(`
		SELECT pe1.run_id, pe1.stage, pe1.timestamp as end_ts,
			(SELECT MIN(pe2.timestamp) FROM pipeline_events pe2
			 WHERE pe2.run_id = pe1.run_id
			 AND pe2.stage = pe1.stage
			 AND pe2.event = 'stage_started'
			 AND pe2.id < pe1.id) as start_ts
		FROM pipeline_events pe1
		WHERE pe1.event IN ('advanced', 'forced')
		AND pe1.stage != ''`, "pe1.timestamp", since, nil)

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	stageDurations := make(map[string][]float64)
	for rows.Next() {
		var runID, stage, endTS string
		var startTS sql.NullString
		if err := rows.Scan(&runID, &stage, &endTS, &startTS); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		if !startTS.Valid {
			continue
		}
		start, err := parseTimestamp(startTS.String)
		if err != nil {
			continue
		}
		end, err := parseTimestamp(endTS)
		if err != nil {
			continue
		}
		if secs := end.Sub(start).Seconds(); secs >= 0 {
			stageDurations[stage] = append(stageDurations[stage], secs)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageDuration
	for stage, durations := range stageDurations {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// Report bundles every aggregate for one window.
type Report struct {
	Since          string           `json:"since,omitempty"`
	Runs           RunOutcomes      `json:"runs"`
	FirstPass      []TransitionRate `json:"first_pass"`
	FailingFields  []FieldFailure   `json:"failing_fields"`
	Gate           GateSummary      `json:"gate"`
	StageDurations []StageDuration  `json:"stage_durations"`
}

// BuildReport runs every query. topFields bounds the failing field list.
func BuildReport(database DB, since string, topFields int) (Report, error) {
	r := Report{Since: since}
	var err error
	if r.Runs, err = QueryRunOutcomes(database, since); err != nil {
		return r, err
	}
	if r.FirstPass, err = QueryFirstPassRates(database, since); err != nil {
		return r, err
	}
	if r.FailingFields, err = QueryTopFailingFields(database, since, topFields); err != nil {
		return r, err
	}
	if r.Gate, err = QueryGateSummary(database, since); err != nil {
		return r, err
	}
	if r.StageDurations, err = QueryStageDurations(database, since); err != nil {
		return r, err
	}
	return r, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
