// Package orchestrator drives a pipeline run through its stages: it validates
// every handoff, spends the single correction pass, applies the quality gate
// at the Quality stage, and decides whether to advance, retry or force the
// run forward.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/mailgate/internal/corrector"
	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/integrity"
)

// ErrCorrectionSpent is returned when a handoff's single correction pass has
// already been used.
var ErrCorrectionSpent = errors.New("correction already attempted for this handoff")

// PayloadValidator validates a payload for a transition.
type PayloadValidator interface {
	Validate(p handoff.Payload, t handoff.TransitionType) handoff.ValidationResult
}

// PayloadCorrector runs one repair pass.
type PayloadCorrector interface {
	Correct(ctx context.Context, p handoff.Payload, errs []handoff.ValidationError) (corrector.Result, error)
}

// QualityEvaluator scores a Quality stage payload.
type QualityEvaluator interface {
	Evaluate(ctx context.Context, p handoff.Payload) handoff.QualityScore
}

// Attempt is one submitted handoff as it was judged, accepted or not.
type Attempt struct {
	RunID     string                   `json:"run_id"`
	Stage     handoff.Stage            `json:"stage"`
	Iteration int                      `json:"iteration"`
	Payload   handoff.Payload          `json:"payload"`
	Result    handoff.ValidationResult `json:"result"`
	Score     *handoff.QualityScore    `json:"score,omitempty"`
	Decision  Decision                 `json:"decision"`
	Timestamp time.Time                `json:"timestamp"`
}

// AttemptArchiver is implemented by stores that keep every attempt,
// including rejected ones.
type AttemptArchiver interface {
	ArchiveAttempt(ctx context.Context, a Attempt) error
}

// Deps are the shared, stateless collaborators. Validator is required.
type Deps struct {
	Validator PayloadValidator
	Corrector PayloadCorrector
	Evaluator QualityEvaluator
	Store     Store
	Sink      Sink
	Clock     func() time.Time
}

// Config holds run policy. TraceID, when set, is the trace the run adopts
// instead of a fresh one; replayed payloads already carry theirs.
type Config struct {
	MaxRetries   int
	ImproveFloor int
	RunTimeout   time.Duration
	TraceID      string
}

// DefaultConfig allows one retry, improves from 50 and bounds a run at ten minutes.
func DefaultConfig() Config {
	return Config{MaxRetries: 1, ImproveFloor: 50, RunTimeout: 10 * time.Minute}
}

// Outcome describes what happened to one submitted handoff.
type Outcome struct {
	Stage      handoff.Stage            `json:"stage"`
	Result     handoff.ValidationResult `json:"result"`
	Score      *handoff.QualityScore    `json:"score,omitempty"`
	Correction *corrector.Result        `json:"correction,omitempty"`
	Decision   Decision                 `json:"decision"`
	NextStage  handoff.Stage            `json:"next_stage,omitempty"`
	Feedback   []string                 `json:"feedback,omitempty"`
	Run        handoff.PipelineRun      `json:"run"`
}

// Orchestrator owns the state of exactly one run. All methods are serialized.
type Orchestrator struct {
	mu       sync.Mutex
	deps     Deps
	cfg      Config
	run      handoff.PipelineRun
	records  []handoff.HandoffRecord
	deadline time.Time
	// correctedAt marks (stage, iteration) pairs whose correction pass is spent.
	correctedAt map[string]bool
	lastInput   handoff.Payload
}

func (d Deps) withDefaults() Deps {
	if d.Store == nil {
		d.Store = NewMemoryStore()
	}
	if d.Sink == nil {
		d.Sink = NopSink{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

// Start creates and persists a new run at the first stage.
func Start(ctx context.Context, deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Validator == nil {
		return nil, errors.New("orchestrator: validator is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("orchestrator: max retries %d is negative", cfg.MaxRetries)
	}
	traceID := cfg.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	} else if err := uuid.Validate(traceID); err != nil {
		return nil, fmt.Errorf("orchestrator: trace id %q: %w", traceID, err)
	}
	deps = deps.withDefaults()
	now := deps.Clock().UTC()
	o := &Orchestrator{
		deps: deps,
		cfg:  cfg,
		run: handoff.PipelineRun{
			RunID:        uuid.NewString(),
			TraceID:      traceID,
			CurrentStage: handoff.Stages[0],
			State:        handoff.State(handoff.Stages[0]),
			MaxRetries:   cfg.MaxRetries,
			Status:       handoff.StatusRunning,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		correctedAt: map[string]bool{},
	}
	if cfg.RunTimeout > 0 {
		o.deadline = now.Add(cfg.RunTimeout)
	}
	if err := deps.Store.CreateRun(ctx, o.run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	o.emit(ctx, o.run.CurrentStage, EventCreated, map[string]any{"max_retries": cfg.MaxRetries})
	return o, nil
}

// Resume loads an existing run and its records.
func Resume(ctx context.Context, deps Deps, cfg Config, runID string) (*Orchestrator, error) {
	if deps.Validator == nil {
		return nil, errors.New("orchestrator: validator is required")
	}
	deps = deps.withDefaults()
	run, err := deps.Store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	records, err := deps.Store.Records(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get records: %w", err)
	}
	cfg.MaxRetries = run.MaxRetries
	cfg.TraceID = run.TraceID
	o := &Orchestrator{deps: deps, cfg: cfg, run: run, records: records, correctedAt: map[string]bool{}}
	if cfg.RunTimeout > 0 {
		o.deadline = run.CreatedAt.Add(cfg.RunTimeout)
	}
	if n := len(records); n > 0 {
		o.lastInput = records[n-1].Payload.Clone()
	}
	return o, nil
}

// Run returns a snapshot of the run state.
func (o *Orchestrator) Run() handoff.PipelineRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot()
}

// Records returns a copy of the accepted handoff records.
func (o *Orchestrator) Records() []handoff.HandoffRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]handoff.HandoffRecord(nil), o.records...)
}

// Feedback returns the guidance pending for the current stage's retry.
func (o *Orchestrator) Feedback() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.run.Feedback...)
}

// SubmitHandoff validates the payload the current stage produced, corrects it
// at most once, scores it at the Quality stage and applies the decision.
// Rejected attempts are not recorded; only advanced or forced handoffs are.
func (o *Orchestrator) SubmitHandoff(ctx context.Context, stage handoff.Stage, payload handoff.Payload) (Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, cancel := o.runContext(ctx)
	defer cancel()

	if err := o.checkSubmittable(stage); err != nil {
		return Outcome{Stage: stage, Run: o.snapshot()}, err
	}
	transition, _ := handoff.TransitionFor(stage)
	if o.run.State == handoff.StateImproving {
		o.run.State = handoff.State(stage)
		o.run.Status = handoff.StatusRunning
	}

	out := Outcome{Stage: stage}
	result, err := o.validate(ctx, payload, transition)
	if err != nil {
		return o.abort(ctx, out, err)
	}
	out.Result = result
	o.emit(ctx, stage, EventValidated, map[string]any{
		"transition":  string(transition),
		"iteration":   o.run.IterationCount,
		"valid":       result.IsValid,
		"errors":      len(result.Errors),
		"warnings":    len(result.Warnings),
		"duration_ms": result.ValidationDurationMs,
		"fields":      result.Fields(),
	})

	if !result.IsValid && o.deps.Corrector != nil && !o.correctedAt[o.correctionKey(stage)] {
		o.correctedAt[o.correctionKey(stage)] = true
		cres, err := o.deps.Corrector.Correct(ctx, payload, result.Errors)
		if err != nil {
			return o.abort(ctx, out, err)
		}
		out.Correction = &cres
		if cres.Applied() > 0 {
			payload = cres.Payload
			result, err = o.validate(ctx, payload, transition)
			if err != nil {
				return o.abort(ctx, out, err)
			}
			out.Result = result
		}
		o.emit(ctx, stage, EventCorrected, map[string]any{
			"applied":     cres.Applied(),
			"success":     cres.Success,
			"valid_after": result.IsValid,
		})
	}

	if stage == handoff.StageQuality && o.deps.Evaluator != nil {
		score := o.deps.Evaluator.Evaluate(ctx, payload)
		if err := ctx.Err(); err != nil {
			return o.abort(ctx, out, err)
		}
		out.Score = &score
		o.run.LastScore = &score
		dims := make(map[string]float64, len(score.Dimensions))
		for _, d := range score.Dimensions {
			dims[d.Dimension] = d.Score
		}
		o.emit(ctx, stage, EventScored, map[string]any{
			"iteration":   o.run.IterationCount,
			"overall":     score.Overall,
			"gate_passed": score.GatePassed,
			"critical":    len(score.CriticalIssues),
			"dimensions":  dims,
		})
	}

	if !result.IsValid || (out.Score != nil && !out.Score.GatePassed) {
		o.run.State = handoff.StateEscalated
		o.run.Status = handoff.StatusEscalated
		o.emit(ctx, stage, EventEscalated, map[string]any{"iteration": o.run.IterationCount})
	}
	out.Decision = Decide(o.run, result, out.Score, o.cfg.ImproveFloor)
	if err := o.archive(ctx, out, payload); err != nil {
		out.Run = o.snapshot()
		return out, err
	}
	if err := o.apply(ctx, &out, payload); err != nil {
		out.Run = o.snapshot()
		return out, err
	}
	out.Run = o.snapshot()
	return out, nil
}

// RequestCorrection spends the current handoff's correction pass on payload.
func (o *Orchestrator) RequestCorrection(ctx context.Context, stage handoff.Stage, payload handoff.Payload, errs []handoff.ValidationError) (handoff.Payload, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.checkSubmittable(stage); err != nil {
		return payload, err
	}
	if o.deps.Corrector == nil {
		return payload.Clone(), nil
	}
	key := o.correctionKey(stage)
	if o.correctedAt[key] {
		return payload, ErrCorrectionSpent
	}
	o.correctedAt[key] = true

	ctx, cancel := o.runContext(ctx)
	defer cancel()
	res, err := o.deps.Corrector.Correct(ctx, payload, errs)
	if err != nil {
		return payload, err
	}
	o.emit(ctx, stage, EventCorrected, map[string]any{"applied": res.Applied(), "success": res.Success})
	return res.Payload, nil
}

// Escalate returns the decision the orchestrator would take for result at
// stage, using the stage's latest quality score when it has one. It does not
// change run state.
func (o *Orchestrator) Escalate(stage handoff.Stage, result handoff.ValidationResult) (Decision, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run.Status.Terminal() {
		return DecisionFail, handoff.ErrRunTerminal
	}
	if stage != o.run.CurrentStage {
		return DecisionFail, handoff.Wrap(handoff.ErrInvalidTransition, stage, "escalate", fmt.Sprintf("current stage is %s", o.run.CurrentStage), nil)
	}
	var score *handoff.QualityScore
	if stage == handoff.StageQuality {
		score = o.run.LastScore
	}
	return Decide(o.run, result, score, o.cfg.ImproveFloor), nil
}

// Fail terminates the run with reason.
func (o *Orchestrator) Fail(ctx context.Context, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run.Status.Terminal() {
		return handoff.ErrRunTerminal
	}
	return o.fail(ctx, reason, nil)
}

func (o *Orchestrator) checkSubmittable(stage handoff.Stage) error {
	if o.run.Status.Terminal() {
		return handoff.Wrap(handoff.ErrRunTerminal, stage, "submit", string(o.run.Status), nil)
	}
	if stage != o.run.CurrentStage {
		return handoff.Wrap(handoff.ErrInvalidTransition, stage, "submit", fmt.Sprintf("current stage is %s", o.run.CurrentStage), nil)
	}
	if _, ok := handoff.TransitionFor(stage); !ok {
		return handoff.Wrap(handoff.ErrInvalidTransition, stage, "submit", "stage has no successor", nil)
	}
	return nil
}

func (o *Orchestrator) correctionKey(stage handoff.Stage) string {
	return fmt.Sprintf("%s#%d", stage, o.run.IterationCount)
}

func (o *Orchestrator) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, o.deadline)
}

// validate runs the validator off the caller's goroutine so a run deadline
// can abandon it.
func (o *Orchestrator) validate(ctx context.Context, p handoff.Payload, t handoff.TransitionType) (handoff.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return handoff.ValidationResult{}, err
	}
	done := make(chan handoff.ValidationResult, 1)
	go func() { done <- o.deps.Validator.Validate(p, t) }()
	select {
	case r := <-done:
		if bv, ok := o.deps.Validator.(interface {
			Slow(handoff.ValidationResult) bool
		}); ok && bv.Slow(r) {
			o.emit(ctx, o.run.CurrentStage, EventValidationSlow, map[string]any{"duration_ms": r.ValidationDurationMs})
		}
		return r, nil
	case <-ctx.Done():
		return handoff.ValidationResult{}, ctx.Err()
	}
}

func (o *Orchestrator) apply(ctx context.Context, out *Outcome, payload handoff.Payload) error {
	stage := out.Stage
	switch out.Decision {
	case DecisionAdvance, DecisionForceAdvance:
		forced := out.Decision == DecisionForceAdvance
		next, _ := stage.Next()
		out.NextStage = next
		if err := o.appendRecord(ctx, stage, next, payload, out.Result, out.Score, forced); err != nil {
			return err
		}
		if forced {
			o.run.Warning = true
			o.run.Warnings = append(o.run.Warnings, forcedWarning(stage, out.Result, out.Score))
		}
		o.run.CurrentStage = next
		o.run.State = handoff.State(next)
		o.run.Status = handoff.StatusRunning
		o.run.Feedback = nil
		o.run.LastScore = nil
		o.lastInput = payload.Clone()
		event := EventAdvanced
		if forced {
			event = EventForced
		}
		o.emit(ctx, stage, event, map[string]any{"to": string(next), "warning": forced})
		if next == handoff.StageDelivery {
			return o.complete(ctx)
		}
		return o.save(ctx)

	case DecisionRetry:
		o.run.IterationCount++
		o.run.State = handoff.StateImproving
		o.run.Status = handoff.StatusImproving
		o.run.Feedback = Feedback(out.Result, out.Score)
		out.Feedback = append([]string(nil), o.run.Feedback...)
		o.emit(ctx, stage, EventImproving, map[string]any{
			"iteration": o.run.IterationCount,
			"feedback":  len(o.run.Feedback),
		})
		return o.save(ctx)
	}
	return o.fail(ctx, "unexpected decision "+string(out.Decision), nil)
}

func (o *Orchestrator) archive(ctx context.Context, out Outcome, payload handoff.Payload) error {
	a, ok := o.deps.Store.(AttemptArchiver)
	if !ok {
		return nil
	}
	err := a.ArchiveAttempt(ctx, Attempt{
		RunID:     o.run.RunID,
		Stage:     out.Stage,
		Iteration: o.run.IterationCount,
		Payload:   payload.Clone(),
		Result:    out.Result,
		Score:     out.Score,
		Decision:  out.Decision,
		Timestamp: o.deps.Clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("archive attempt: %w", err)
	}
	return nil
}

func (o *Orchestrator) appendRecord(ctx context.Context, from, to handoff.Stage, payload handoff.Payload, result handoff.ValidationResult, score *handoff.QualityScore, forced bool) error {
	trace := o.run.TraceID
	if t, ok := payload["trace_id"].(string); ok && t != "" {
		trace = t
	}
	// Timestamps are hashed, so keep them at a precision every store round-trips.
	rec := handoff.HandoffRecord{
		Seq:              len(o.records),
		TraceID:          trace,
		RunID:            o.run.RunID,
		StageFrom:        from,
		StageTo:          to,
		Payload:          payload.Clone(),
		Timestamp:        o.deps.Clock().UTC().Truncate(time.Microsecond),
		ValidationResult: result,
		QualityScore:     score,
		Forced:           forced,
	}
	rec.ContentHash = integrity.ContentHash(rec)
	if err := o.deps.Store.AppendRecord(ctx, rec); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	o.records = append(o.records, rec)

	chain := integrity.ValidateRunChain(o.run.TraceID, o.records)
	if !chain.IsValid {
		return o.fail(ctx, chain.Errors[0].Message, handoff.ErrChainIntegrity)
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context) error {
	chain := integrity.ValidateRunChain(o.run.TraceID, o.records)
	if !chain.IsValid {
		return o.fail(ctx, chain.Errors[0].Message, handoff.ErrChainIntegrity)
	}
	o.run.State = handoff.StateCompleted
	o.run.Status = handoff.StatusCompleted
	if err := o.save(ctx); err != nil {
		return err
	}
	o.emit(ctx, handoff.StageDelivery, EventCompleted, map[string]any{
		"records":     len(o.records),
		"warning":     o.run.Warning,
		"iterations":  o.run.IterationCount,
		"merkle_root": integrity.RunRoot(o.records),
	})
	return nil
}

// abort routes a cancelled or timed-out handoff to Failed. Partial
// correction work has not been committed at this point.
func (o *Orchestrator) abort(ctx context.Context, out Outcome, cause error) (Outcome, error) {
	out.Decision = DecisionFail
	marker := handoff.ErrRunTimeout
	if errors.Is(cause, context.Canceled) {
		marker = nil
	}
	err := o.fail(context.WithoutCancel(ctx), cause.Error(), marker)
	out.Run = o.snapshot()
	return out, handoff.Wrap(marker, out.Stage, "handoff", "aborted", errors.Join(err, cause))
}

// fail marks the run Failed and returns an error tagged with marker.
func (o *Orchestrator) fail(ctx context.Context, reason string, marker error) error {
	stage := o.run.CurrentStage
	o.run.State = handoff.StateFailed
	o.run.Status = handoff.StatusFailed
	o.run.FailureReason = reason
	saveErr := o.save(context.WithoutCancel(ctx))
	o.emit(ctx, stage, EventFailed, map[string]any{"reason": reason})
	if marker == nil {
		return saveErr
	}
	return errors.Join(handoff.Wrap(marker, stage, "run", reason, nil), saveErr)
}

func (o *Orchestrator) save(ctx context.Context) error {
	o.run.UpdatedAt = o.deps.Clock().UTC()
	if err := o.deps.Store.SaveRun(ctx, o.run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, stage handoff.Stage, event string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["run_id"] = o.run.RunID
	fields["trace_id"] = o.run.TraceID
	fields["state"] = string(o.run.State)
	o.deps.Sink.Record(context.WithoutCancel(ctx), stage, event, fields)
}

func (o *Orchestrator) snapshot() handoff.PipelineRun {
	r := o.run
	r.Warnings = append([]string(nil), o.run.Warnings...)
	r.Feedback = append([]string(nil), o.run.Feedback...)
	if o.run.LastScore != nil {
		score := *o.run.LastScore
		r.LastScore = &score
	}
	return r
}

func forcedWarning(stage handoff.Stage, result handoff.ValidationResult, score *handoff.QualityScore) string {
	msg := fmt.Sprintf("%s forced forward with %d unresolved errors", stage, len(result.Errors))
	if score != nil {
		msg += fmt.Sprintf(", quality %d", score.Overall)
	}
	return msg
}
