// Package quality scores email payloads across weighted dimensions and makes
// the pass/fail gate decision.
package quality

import (
	"fmt"
	"math"
	"sort"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

// Dimension names evaluated at the Quality stage.
const (
	DimensionHTML          = "html"
	DimensionCompatibility = "client-compatibility"
	DimensionAccessibility = "accessibility"
	DimensionPerformance   = "performance"
	DimensionSpam          = "spam"
)

// Weight assigns a share of the overall score to one dimension.
type Weight struct {
	Dimension string  `json:"dimension" yaml:"dimension"`
	Weight    float64 `json:"weight" yaml:"weight"`
}

const weightTolerance = 1e-6

// DefaultWeights is the five-dimension email profile.
func DefaultWeights() []Weight {
	return []Weight{
		{DimensionHTML, 0.25},
		{DimensionCompatibility, 0.20},
		{DimensionAccessibility, 0.25},
		{DimensionPerformance, 0.15},
		{DimensionSpam, 0.15},
	}
}

// DesignReviewWeights is the design review profile: logic/business accuracy,
// visual/brand compliance, asset analysis and content-design coherence.
func DesignReviewWeights() []Weight {
	return []Weight{
		{"logic", 0.30},
		{"visual", 0.25},
		{"asset", 0.20},
		{"coherence", 0.25},
	}
}

// Profiles returns the built-in weight profiles by name.
func Profiles() map[string][]Weight {
	return map[string][]Weight{
		"email":         DefaultWeights(),
		"design_review": DesignReviewWeights(),
	}
}

// WeightsFromMap orders a name->weight map by name for deterministic output.
func WeightsFromMap(m map[string]float64) []Weight {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Weight, 0, len(names))
	for _, n := range names {
		out = append(out, Weight{Dimension: n, Weight: m[n]})
	}
	return out
}

// ValidateWeights checks that weights are non-negative, unique and sum to 1.
func ValidateWeights(ws []Weight) error {
	if len(ws) == 0 {
		return fmt.Errorf("no weights configured")
	}
	seen := map[string]bool{}
	sum := 0.0
	for _, w := range ws {
		if w.Dimension == "" {
			return fmt.Errorf("weight with empty dimension name")
		}
		if seen[w.Dimension] {
			return fmt.Errorf("duplicate weight for dimension %q", w.Dimension)
		}
		seen[w.Dimension] = true
		if w.Weight < 0 {
			return fmt.Errorf("negative weight %g for dimension %q", w.Weight, w.Dimension)
		}
		sum += w.Weight
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("weights sum to %g, want 1.0", sum)
	}
	return nil
}

// GateConfig configures a Gate.
type GateConfig struct {
	Weights   []Weight
	Threshold int
	Blocking  []string
}

// DefaultGateConfig gates at 70 with html and accessibility blocking.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Weights:   DefaultWeights(),
		Threshold: 70,
		Blocking:  []string{DimensionHTML, DimensionAccessibility},
	}
}

// Gate combines dimension scores into a QualityScore.
type Gate struct {
	weights   []Weight
	threshold int
	blocking  map[string]bool
}

// NewGate validates cfg and returns a Gate.
func NewGate(cfg GateConfig) (*Gate, error) {
	if err := ValidateWeights(cfg.Weights); err != nil {
		return nil, fmt.Errorf("quality gate: %w", err)
	}
	if cfg.Threshold < 0 || cfg.Threshold > 100 {
		return nil, fmt.Errorf("quality gate: threshold %d outside [0,100]", cfg.Threshold)
	}
	g := &Gate{
		weights:   append([]Weight(nil), cfg.Weights...),
		threshold: cfg.Threshold,
		blocking:  make(map[string]bool, len(cfg.Blocking)),
	}
	for _, b := range cfg.Blocking {
		g.blocking[b] = true
	}
	return g, nil
}

// Threshold returns the gate threshold.
func (g *Gate) Threshold() int { return g.threshold }

// Dimensions returns the weighted dimension names in configured order.
func (g *Gate) Dimensions() []string {
	out := make([]string, len(g.weights))
	for i, w := range g.weights {
		out[i] = w.Dimension
	}
	return out
}

// ComputeScore aggregates results. A weighted dimension absent from results
// scores 0 and fails. Results for unweighted dimensions are reported but do
// not contribute to the overall score. Scores are clamped to [0,100].
func (g *Gate) ComputeScore(results []handoff.DimensionScore) handoff.QualityScore {
	byName := make(map[string]handoff.DimensionScore, len(results))
	var dims []handoff.DimensionScore
	for _, r := range results {
		if _, dup := byName[r.Dimension]; dup {
			continue
		}
		r.Score = clamp(r.Score)
		byName[r.Dimension] = r
		dims = append(dims, r)
	}
	for _, w := range g.weights {
		if _, ok := byName[w.Dimension]; !ok {
			missing := handoff.DimensionScore{
				Dimension: w.Dimension,
				Score:     0,
				Passed:    false,
				Issues:    []string{"no result reported"},
			}
			byName[w.Dimension] = missing
			dims = append(dims, missing)
		}
	}

	total := 0.0
	for _, w := range g.weights {
		total += w.Weight * byName[w.Dimension].Score
	}
	overall := int(math.Round(total))
	if overall < 0 {
		overall = 0
	}
	if overall > 100 {
		overall = 100
	}

	qs := handoff.QualityScore{
		Overall:         overall,
		GatePassed:      overall >= g.threshold,
		Dimensions:      dims,
		CriticalIssues:  []string{},
		Recommendations: []string{},
	}
	for _, d := range dims {
		if d.Passed || !g.blocking[d.Dimension] {
			continue
		}
		qs.CriticalIssues = append(qs.CriticalIssues, fmt.Sprintf("%s: blocking dimension failed (score %.0f)", d.Dimension, d.Score))
		for _, issue := range d.Issues {
			qs.CriticalIssues = append(qs.CriticalIssues, d.Dimension+": "+issue)
		}
	}
	if !qs.GatePassed {
		qs.CriticalIssues = append(qs.CriticalIssues, fmt.Sprintf("overall score %d is below threshold %d", overall, g.threshold))
	}

	seen := map[string]bool{}
	for _, d := range dims {
		for _, rec := range d.Recommendations {
			if seen[rec] {
				continue
			}
			seen[rec] = true
			qs.Recommendations = append(qs.Recommendations, rec)
		}
	}
	return qs
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
