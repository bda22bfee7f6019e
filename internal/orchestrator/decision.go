package orchestrator

import (
	"fmt"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

// Decision is the orchestrator's verdict on a completed stage.
type Decision string

const (
	DecisionAdvance      Decision = "advance"
	DecisionRetry        Decision = "retry"
	DecisionForceAdvance Decision = "forceAdvance"
	DecisionFail         Decision = "fail"
)

// Decide applies the progression policy. score is nil for stages without a
// quality gate; those are always eligible for a retry while budget remains.
func Decide(run handoff.PipelineRun, result handoff.ValidationResult, score *handoff.QualityScore, improveFloor int) Decision {
	if result.IsValid && (score == nil || score.GatePassed) {
		return DecisionAdvance
	}
	aboveFloor := score == nil || score.Overall >= improveFloor
	if run.IterationCount < run.MaxRetries && aboveFloor {
		return DecisionRetry
	}
	return DecisionForceAdvance
}

// Feedback collects the targeted guidance sent back to a stage on retry:
// failing dimensions' insights and recommendations, then validation errors.
func Feedback(result handoff.ValidationResult, score *handoff.QualityScore) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if score != nil {
		for _, d := range score.Failing() {
			add(fmt.Sprintf("%s scored %.0f", d.Dimension, d.Score))
			for _, i := range d.Issues {
				add(d.Dimension + ": " + i)
			}
			for _, r := range d.Recommendations {
				add(r)
			}
		}
	}
	for _, e := range result.Errors {
		add(fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	for _, s := range result.CorrectionSuggestions {
		add(s.SuggestedAction)
	}
	return out
}
