package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lucasnoah/mailgate/internal/corrector"
	"github.com/lucasnoah/mailgate/internal/fixtures"
	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/schema"
	"github.com/lucasnoah/mailgate/internal/validator"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Record(_ context.Context, _ handoff.Stage, event string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

type stubEvaluator struct {
	scores []handoff.QualityScore
	calls  int
}

func (e *stubEvaluator) Evaluate(context.Context, handoff.Payload) handoff.QualityScore {
	s := e.scores[e.calls]
	if e.calls < len(e.scores)-1 {
		e.calls++
	}
	return s
}

type countingCorrector struct {
	calls int
	fix   func(p handoff.Payload) handoff.Payload
}

func (c *countingCorrector) Correct(_ context.Context, p handoff.Payload, errs []handoff.ValidationError) (corrector.Result, error) {
	c.calls++
	if c.fix == nil {
		return corrector.Result{Payload: p.Clone()}, nil
	}
	fixed := c.fix(p.Clone())
	var attempts []corrector.Attempt
	for _, e := range errs {
		attempts = append(attempts, corrector.Attempt{Field: e.Field, Applied: true})
	}
	return corrector.Result{Payload: fixed, Success: true, Attempts: attempts}, nil
}

// scriptedCollaborator returns valid fixtures unless a stage/iteration is
// overridden.
type scriptedCollaborator struct {
	mu        sync.Mutex
	overrides map[handoff.Stage]func(req StageRequest) (handoff.Payload, error)
	requests  []StageRequest
}

func (c *scriptedCollaborator) Produce(_ context.Context, req StageRequest) (handoff.Payload, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	fn := c.overrides[req.Stage]
	c.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return fixtures.ForStage(req.Stage, req.TraceID), nil
}

func passingScore() handoff.QualityScore {
	return handoff.QualityScore{Overall: 90, GatePassed: true}
}

func newDeps(sink Sink, eval QualityEvaluator) Deps {
	return Deps{
		Validator: validator.New(schema.Default()),
		Evaluator: eval,
		Sink:      sink,
	}
}

func startRun(t *testing.T, deps Deps, cfg Config) *Orchestrator {
	t.Helper()
	o, err := Start(context.Background(), deps, cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return o
}

func invalidContent(req StageRequest) handoff.Payload {
	p := fixtures.ForStage(req.Stage, req.TraceID)
	_ = p.Set("content_package.complete_content.subject", "")
	return p
}

func TestExecuteHappyPath(t *testing.T) {
	sink := &recordingSink{}
	o := startRun(t, newDeps(sink, &stubEvaluator{scores: []handoff.QualityScore{passingScore()}}), DefaultConfig())

	run, err := o.Execute(context.Background(), &scriptedCollaborator{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != handoff.StatusCompleted || run.State != handoff.StateCompleted {
		t.Fatalf("expected Completed, got %s/%s (%s)", run.Status, run.State, run.FailureReason)
	}
	if run.Warning {
		t.Error("expected no warning")
	}
	if run.CurrentStage != handoff.StageDelivery {
		t.Errorf("expected current stage Delivery, got %s", run.CurrentStage)
	}
	records := o.Records()
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	for i, r := range records {
		if r.TraceID != run.TraceID {
			t.Errorf("record %d trace %q, want %q", i, r.TraceID, run.TraceID)
		}
		if i > 0 && records[i-1].StageTo != r.StageFrom {
			t.Errorf("record %d not contiguous", i)
		}
		if r.ContentHash == "" {
			t.Errorf("record %d has no content hash", i)
		}
	}
	if records[3].QualityScore == nil || !records[3].QualityScore.GatePassed {
		t.Error("expected quality score on the Quality record")
	}
	if sink.count(EventAdvanced) != 4 || sink.count(EventCompleted) != 1 {
		t.Errorf("unexpected events: %v", sink.events)
	}
}

func TestRetryWithFeedbackThenAdvance(t *testing.T) {
	collab := &scriptedCollaborator{overrides: map[handoff.Stage]func(StageRequest) (handoff.Payload, error){
		handoff.StageContent: func(req StageRequest) (handoff.Payload, error) {
			if req.Iteration == 0 {
				return invalidContent(req), nil
			}
			return fixtures.ForStage(req.Stage, req.TraceID), nil
		},
	}}
	sink := &recordingSink{}
	o := startRun(t, newDeps(sink, &stubEvaluator{scores: []handoff.QualityScore{passingScore()}}), DefaultConfig())

	run, err := o.Execute(context.Background(), collab)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != handoff.StatusCompleted || run.Warning {
		t.Fatalf("expected clean completion, got %+v", run)
	}
	if run.IterationCount != 1 {
		t.Errorf("expected iteration 1, got %d", run.IterationCount)
	}

	var retry *StageRequest
	for i := range collab.requests {
		if collab.requests[i].Stage == handoff.StageContent && collab.requests[i].Iteration == 1 {
			retry = &collab.requests[i]
		}
	}
	if retry == nil {
		t.Fatal("expected a Content retry request")
	}
	if len(retry.Feedback) == 0 {
		t.Error("expected feedback on retry")
	}
	if retry.Input == nil {
		t.Error("expected previous stage payload as input")
	}
	if sink.count(EventImproving) != 1 {
		t.Errorf("expected 1 improving event, got %d", sink.count(EventImproving))
	}
	if len(o.Records()) != 4 {
		t.Errorf("rejected attempts must not be recorded, got %d records", len(o.Records()))
	}
}

func TestPersistentFailureForcesAdvanceWithWarning(t *testing.T) {
	collab := &scriptedCollaborator{overrides: map[handoff.Stage]func(StageRequest) (handoff.Payload, error){
		handoff.StageContent: func(req StageRequest) (handoff.Payload, error) { return invalidContent(req), nil },
	}}
	o := startRun(t, newDeps(nil, &stubEvaluator{scores: []handoff.QualityScore{passingScore()}}), DefaultConfig())

	run, err := o.Execute(context.Background(), collab)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != handoff.StatusCompleted {
		t.Fatalf("expected Completed, got %s", run.Status)
	}
	if !run.Warning || len(run.Warnings) != 1 {
		t.Errorf("expected one warning, got %v", run.Warnings)
	}
	if run.IterationCount > run.MaxRetries {
		t.Errorf("iteration %d exceeds max %d", run.IterationCount, run.MaxRetries)
	}
	records := o.Records()
	if !records[1].Forced {
		t.Error("expected Content record to be forced")
	}
	if records[1].ValidationResult.IsValid {
		t.Error("forced record should keep its failing validation result")
	}
}

func TestLowQualityScoreForcesWithoutRetry(t *testing.T) {
	eval := &stubEvaluator{scores: []handoff.QualityScore{{Overall: 40, GatePassed: false}}}
	o := startRun(t, newDeps(nil, eval), DefaultConfig())

	run, err := o.Execute(context.Background(), &scriptedCollaborator{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.IterationCount != 0 {
		t.Errorf("expected no retry below improve floor, got iteration %d", run.IterationCount)
	}
	if !run.Warning || run.Status != handoff.StatusCompleted {
		t.Errorf("expected forced completion, got %+v", run)
	}
}

func TestMidQualityScoreRetriesOnce(t *testing.T) {
	eval := &stubEvaluator{scores: []handoff.QualityScore{
		{Overall: 60, GatePassed: false, Dimensions: []handoff.DimensionScore{{Dimension: "spam", Score: 20, Recommendations: []string{"Remove spam trigger: FREE"}}}},
		passingScore(),
	}}
	collab := &scriptedCollaborator{}
	o := startRun(t, newDeps(nil, eval), DefaultConfig())

	run, err := o.Execute(context.Background(), collab)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.IterationCount != 1 || run.Warning {
		t.Errorf("expected one clean retry, got %+v", run)
	}
	last := collab.requests[len(collab.requests)-1]
	if last.Stage != handoff.StageQuality || last.Iteration != 1 {
		t.Fatalf("expected final request to be Quality retry, got %+v", last)
	}
	found := false
	for _, f := range last.Feedback {
		if f == "Remove spam trigger: FREE" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected dimension recommendation in feedback, got %v", last.Feedback)
	}
}

func TestCorrectorRepairsBeforeEscalation(t *testing.T) {
	corr := &countingCorrector{fix: func(p handoff.Payload) handoff.Payload {
		_ = p.Set("content_package.complete_content.subject", "Fixed subject")
		return p
	}}
	deps := newDeps(nil, &stubEvaluator{scores: []handoff.QualityScore{passingScore()}})
	deps.Corrector = corr
	collab := &scriptedCollaborator{overrides: map[handoff.Stage]func(StageRequest) (handoff.Payload, error){
		handoff.StageContent: func(req StageRequest) (handoff.Payload, error) { return invalidContent(req), nil },
	}}
	o := startRun(t, deps, DefaultConfig())

	run, err := o.Execute(context.Background(), collab)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if corr.calls != 1 {
		t.Errorf("expected 1 corrector call, got %d", corr.calls)
	}
	if run.IterationCount != 0 || run.Warning {
		t.Errorf("expected no retry after successful correction, got %+v", run)
	}
	subj, _ := o.Records()[1].Payload.String("content_package.complete_content.subject")
	if subj != "Fixed subject" {
		t.Errorf("expected corrected payload to be recorded, got %q", subj)
	}
}

func TestCorrectorRunsOncePerHandoffAttempt(t *testing.T) {
	corr := &countingCorrector{}
	deps := newDeps(nil, &stubEvaluator{scores: []handoff.QualityScore{passingScore()}})
	deps.Corrector = corr
	collab := &scriptedCollaborator{overrides: map[handoff.Stage]func(StageRequest) (handoff.Payload, error){
		handoff.StageContent: func(req StageRequest) (handoff.Payload, error) { return invalidContent(req), nil },
	}}
	o := startRun(t, deps, DefaultConfig())
	if _, err := o.Execute(context.Background(), collab); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// One pass for the original attempt and one for the retry.
	if corr.calls != 2 {
		t.Errorf("expected 2 corrector calls, got %d", corr.calls)
	}
}

func TestRequestCorrectionIsSpentOnce(t *testing.T) {
	deps := newDeps(nil, nil)
	deps.Corrector = &countingCorrector{}
	o := startRun(t, deps, DefaultConfig())
	p := fixtures.ForStage(handoff.StageDataCollection, o.Run().TraceID)

	if _, err := o.RequestCorrection(context.Background(), handoff.StageDataCollection, p, nil); err != nil {
		t.Fatalf("first correction: %v", err)
	}
	_, err := o.RequestCorrection(context.Background(), handoff.StageDataCollection, p, nil)
	if !errors.Is(err, ErrCorrectionSpent) {
		t.Errorf("expected ErrCorrectionSpent, got %v", err)
	}
}

func TestTraceDriftFailsRun(t *testing.T) {
	collab := &scriptedCollaborator{overrides: map[handoff.Stage]func(StageRequest) (handoff.Payload, error){
		handoff.StageDesign: func(req StageRequest) (handoff.Payload, error) {
			return fixtures.ForStage(req.Stage, "0f0e0d0c-0b0a-4908-8706-050403020100"), nil
		},
	}}
	sink := &recordingSink{}
	o := startRun(t, newDeps(sink, &stubEvaluator{scores: []handoff.QualityScore{passingScore()}}), DefaultConfig())

	run, err := o.Execute(context.Background(), collab)
	if !errors.Is(err, handoff.ErrChainIntegrity) {
		t.Fatalf("expected ErrChainIntegrity, got %v", err)
	}
	if run.Status != handoff.StatusFailed || run.State != handoff.StateFailed {
		t.Errorf("expected Failed, got %s/%s", run.Status, run.State)
	}
	if sink.count(EventFailed) != 1 {
		t.Errorf("expected failed event, got %v", sink.events)
	}
	if _, err := o.SubmitHandoff(context.Background(), run.CurrentStage, handoff.Payload{}); !errors.Is(err, handoff.ErrRunTerminal) {
		t.Errorf("expected ErrRunTerminal after failure, got %v", err)
	}
}

func TestRunDeadlineFailsWithTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RunTimeout = 300 * time.Millisecond
	collab := CollaboratorFunc(func(ctx context.Context, req StageRequest) (handoff.Payload, error) {
		if req.Stage == handoff.StageDesign {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return fixtures.ForStage(req.Stage, req.TraceID), nil
	})
	o := startRun(t, newDeps(nil, nil), cfg)

	run, err := o.Execute(context.Background(), collab)
	if !errors.Is(err, handoff.ErrRunTimeout) {
		t.Fatalf("expected ErrRunTimeout, got %v", err)
	}
	if run.Status != handoff.StatusFailed {
		t.Errorf("expected Failed, got %s", run.Status)
	}
	if len(o.Records()) != 2 {
		t.Errorf("expected records up to Design, got %d", len(o.Records()))
	}
}

func TestStageErrorsExhaustBudget(t *testing.T) {
	calls := 0
	collab := CollaboratorFunc(func(_ context.Context, req StageRequest) (handoff.Payload, error) {
		if req.Stage == handoff.StageContent {
			calls++
			return nil, errors.New("model overloaded")
		}
		return fixtures.ForStage(req.Stage, req.TraceID), nil
	})
	o := startRun(t, newDeps(nil, nil), DefaultConfig())

	run, err := o.Execute(context.Background(), collab)
	if !errors.Is(err, handoff.ErrStageUnavailable) {
		t.Fatalf("expected ErrStageUnavailable, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
	if run.Status != handoff.StatusFailed || run.IterationCount != 1 {
		t.Errorf("unexpected run %+v", run)
	}
}

func TestZeroRetriesForcesImmediately(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	collab := &scriptedCollaborator{overrides: map[handoff.Stage]func(StageRequest) (handoff.Payload, error){
		handoff.StageContent: func(req StageRequest) (handoff.Payload, error) { return invalidContent(req), nil },
	}}
	o := startRun(t, newDeps(nil, nil), cfg)
	run, err := o.Execute(context.Background(), collab)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.IterationCount != 0 || !run.Warning {
		t.Errorf("expected forced advance with no retry, got %+v", run)
	}
}

func TestSubmitHandoffRejectsOutOfOrderStage(t *testing.T) {
	o := startRun(t, newDeps(nil, nil), DefaultConfig())
	_, err := o.SubmitHandoff(context.Background(), handoff.StageDesign, handoff.Payload{})
	if !errors.Is(err, handoff.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if o.Run().Status != handoff.StatusRunning {
		t.Error("out-of-order submit must not change run state")
	}
}

func TestSubmitHandoffStateTransitions(t *testing.T) {
	o := startRun(t, newDeps(nil, nil), DefaultConfig())
	trace := o.Run().TraceID

	bad := fixtures.ForStage(handoff.StageDataCollection, trace)
	delete(bad, "collected_data")
	out, err := o.SubmitHandoff(context.Background(), handoff.StageDataCollection, bad)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Decision != DecisionRetry || out.Run.State != handoff.StateImproving || out.Run.Status != handoff.StatusImproving {
		t.Fatalf("expected retry into Improving, got %s %s", out.Decision, out.Run.State)
	}
	if len(o.Feedback()) == 0 {
		t.Error("expected pending feedback")
	}

	out, err = o.SubmitHandoff(context.Background(), handoff.StageDataCollection, fixtures.ForStage(handoff.StageDataCollection, trace))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Decision != DecisionAdvance || out.NextStage != handoff.StageContent || out.Run.State != handoff.StateContent {
		t.Fatalf("expected advance to Content, got %+v", out)
	}
	if len(o.Feedback()) != 0 {
		t.Error("feedback should clear after advancing")
	}
}

func TestEscalateDoesNotMutate(t *testing.T) {
	o := startRun(t, newDeps(nil, nil), DefaultConfig())
	before := o.Run()
	d, err := o.Escalate(handoff.StageDataCollection, handoff.ValidationResult{IsValid: false})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if d != DecisionRetry {
		t.Errorf("expected retry, got %s", d)
	}
	if o.Run().IterationCount != before.IterationCount || o.Run().State != before.State {
		t.Error("Escalate changed run state")
	}
	if _, err := o.Escalate(handoff.StageQuality, handoff.ValidationResult{}); !errors.Is(err, handoff.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestDecide(t *testing.T) {
	valid := handoff.ValidationResult{IsValid: true}
	invalid := handoff.ValidationResult{IsValid: false}
	fresh := handoff.PipelineRun{MaxRetries: 1}
	spent := handoff.PipelineRun{MaxRetries: 1, IterationCount: 1}

	tests := []struct {
		name   string
		run    handoff.PipelineRun
		result handoff.ValidationResult
		score  *handoff.QualityScore
		want   Decision
	}{
		{"valid no score", fresh, valid, nil, DecisionAdvance},
		{"valid gate passed", fresh, valid, &handoff.QualityScore{Overall: 80, GatePassed: true}, DecisionAdvance},
		{"valid gate failed above floor", fresh, valid, &handoff.QualityScore{Overall: 65}, DecisionRetry},
		{"valid gate failed at floor", fresh, valid, &handoff.QualityScore{Overall: 50}, DecisionRetry},
		{"valid gate failed below floor", fresh, valid, &handoff.QualityScore{Overall: 49}, DecisionForceAdvance},
		{"invalid fresh", fresh, invalid, nil, DecisionRetry},
		{"invalid spent", spent, invalid, nil, DecisionForceAdvance},
		{"invalid gate passed", fresh, invalid, &handoff.QualityScore{Overall: 90, GatePassed: true}, DecisionRetry},
		{"gate failed spent", spent, valid, &handoff.QualityScore{Overall: 69}, DecisionForceAdvance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.run, tt.result, tt.score, 50); got != tt.want {
				t.Errorf("Decide = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIterationNeverExceedsMaxRetries(t *testing.T) {
	for maxRetries := 0; maxRetries <= 3; maxRetries++ {
		cfg := DefaultConfig()
		cfg.MaxRetries = maxRetries
		collab := &scriptedCollaborator{overrides: map[handoff.Stage]func(StageRequest) (handoff.Payload, error){
			handoff.StageContent: func(req StageRequest) (handoff.Payload, error) { return invalidContent(req), nil },
			handoff.StageDesign: func(req StageRequest) (handoff.Payload, error) {
				p := fixtures.ForStage(req.Stage, req.TraceID)
				_ = p.Set("rendering_metadata.file_size_bytes", 150000)
				return p, nil
			},
		}}
		eval := &stubEvaluator{scores: []handoff.QualityScore{{Overall: 60}}}
		o := startRun(t, newDeps(nil, eval), cfg)
		run, err := o.Execute(context.Background(), collab)
		if err != nil {
			t.Fatalf("max=%d: %v", maxRetries, err)
		}
		if run.IterationCount > maxRetries {
			t.Errorf("max=%d: iteration %d", maxRetries, run.IterationCount)
		}
		if run.Status != handoff.StatusCompleted || !run.Warning {
			t.Errorf("max=%d: expected forced completion, got %+v", maxRetries, run)
		}
	}
}

func TestResumeLoadsRun(t *testing.T) {
	store := NewMemoryStore()
	deps := newDeps(nil, nil)
	deps.Store = store
	o := startRun(t, deps, DefaultConfig())
	trace := o.Run().TraceID
	if _, err := o.SubmitHandoff(context.Background(), handoff.StageDataCollection, fixtures.ForStage(handoff.StageDataCollection, trace)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	r, err := Resume(context.Background(), deps, DefaultConfig(), o.Run().RunID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if r.Run().CurrentStage != handoff.StageContent {
		t.Errorf("expected Content, got %s", r.Run().CurrentStage)
	}
	if len(r.Records()) != 1 {
		t.Errorf("expected 1 record, got %d", len(r.Records()))
	}
	if _, err := Resume(context.Background(), deps, DefaultConfig(), "missing"); !errors.Is(err, handoff.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStartRequiresValidator(t *testing.T) {
	if _, err := Start(context.Background(), Deps{}, DefaultConfig()); err == nil {
		t.Error("expected error without validator")
	}
}

func TestFeedbackOrderAndDedup(t *testing.T) {
	result := handoff.ValidationResult{
		Errors: []handoff.ValidationError{
			{Field: "subject", Message: "must not be empty"},
			{Field: "subject", Message: "must not be empty"},
		},
		CorrectionSuggestions: []handoff.CorrectionSuggestion{{Field: "subject", SuggestedAction: "Write a subject line"}},
	}
	score := &handoff.QualityScore{Dimensions: []handoff.DimensionScore{
		{Dimension: "html", Score: 100, Passed: true, Recommendations: []string{"ignored"}},
		{Dimension: "spam", Score: 40, Issues: []string{"trigger words"}, Recommendations: []string{"Soften the subject"}},
	}}

	got := Feedback(result, score)
	want := []string{
		"spam scored 40",
		"spam: trigger words",
		"Soften the subject",
		"subject: must not be empty",
		"Write a subject line",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("feedback[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResumeKeepsRetryFeedback(t *testing.T) {
	deps := newDeps(nil, nil)
	deps.Store = NewMemoryStore()
	o := startRun(t, deps, DefaultConfig())
	p := fixtures.ForStage(handoff.StageDataCollection, o.Run().TraceID)
	_ = p.Set("collected_data.campaign_brief.topic", "")
	out, err := o.SubmitHandoff(context.Background(), handoff.StageDataCollection, p)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Decision != DecisionRetry || len(out.Feedback) == 0 {
		t.Fatalf("expected retry with feedback, got %s %v", out.Decision, out.Feedback)
	}

	r, err := Resume(context.Background(), deps, DefaultConfig(), o.Run().RunID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if r.Run().State != handoff.StateImproving || r.Run().IterationCount != 1 {
		t.Fatalf("expected Improving at iteration 1, got %s/%d", r.Run().State, r.Run().IterationCount)
	}
	got := r.Feedback()
	if len(got) != len(out.Feedback) || got[0] != out.Feedback[0] {
		t.Errorf("resumed feedback = %v, want %v", got, out.Feedback)
	}

	collab := &scriptedCollaborator{}
	run, err := r.Execute(context.Background(), collab)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != handoff.StatusCompleted {
		t.Fatalf("expected Completed, got %s (%s)", run.Status, run.FailureReason)
	}
	first := collab.requests[0]
	if first.Stage != handoff.StageDataCollection || first.Iteration != 1 {
		t.Fatalf("expected DataCollection retry first, got %+v", first)
	}
	if len(first.Feedback) != len(out.Feedback) {
		t.Errorf("retry request feedback = %v, want %v", first.Feedback, out.Feedback)
	}
	if len(run.Feedback) != 0 {
		t.Errorf("feedback should clear after advancing, got %v", run.Feedback)
	}
}

func TestResumeKeepsLastQualityScore(t *testing.T) {
	eval := &stubEvaluator{scores: []handoff.QualityScore{{Overall: 60, GatePassed: false}}}
	deps := newDeps(nil, eval)
	deps.Store = NewMemoryStore()
	o := startRun(t, deps, DefaultConfig())
	trace := o.Run().TraceID
	for _, s := range handoff.Stages[:4] {
		if _, err := o.SubmitHandoff(context.Background(), s, fixtures.ForStage(s, trace)); err != nil {
			t.Fatalf("submit %s: %v", s, err)
		}
	}
	if o.Run().State != handoff.StateImproving {
		t.Fatalf("expected Quality retry, got %s", o.Run().State)
	}

	r, err := Resume(context.Background(), deps, DefaultConfig(), o.Run().RunID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if r.Run().LastScore == nil || r.Run().LastScore.Overall != 60 {
		t.Fatalf("expected last score 60, got %+v", r.Run().LastScore)
	}
	d, err := r.Escalate(handoff.StageQuality, handoff.ValidationResult{IsValid: true})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if d != DecisionForceAdvance {
		t.Errorf("expected forceAdvance from the stored score, got %s", d)
	}
}

func TestStartAdoptsTraceID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceID = fixtures.TraceID
	o := startRun(t, newDeps(nil, nil), cfg)
	if o.Run().TraceID != fixtures.TraceID {
		t.Fatalf("trace = %q, want %q", o.Run().TraceID, fixtures.TraceID)
	}

	run, err := o.Execute(context.Background(), CollaboratorFunc(func(_ context.Context, req StageRequest) (handoff.Payload, error) {
		return fixtures.ForStage(req.Stage, ""), nil
	}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != handoff.StatusCompleted {
		t.Fatalf("expected Completed, got %s (%s)", run.Status, run.FailureReason)
	}

	cfg.TraceID = "not-a-uuid"
	if _, err := Start(context.Background(), newDeps(nil, nil), cfg); err == nil {
		t.Error("expected error for malformed trace id")
	}
}
