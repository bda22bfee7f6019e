package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

func dims(scores map[string]float64, passed map[string]bool) []handoff.DimensionScore {
	var out []handoff.DimensionScore
	for _, w := range DefaultWeights() {
		out = append(out, handoff.DimensionScore{Dimension: w.Dimension, Score: scores[w.Dimension], Passed: passed[w.Dimension]})
	}
	return out
}

func allPassing(score float64) []handoff.DimensionScore {
	var out []handoff.DimensionScore
	for _, w := range DefaultWeights() {
		out = append(out, handoff.DimensionScore{Dimension: w.Dimension, Score: score, Passed: true})
	}
	return out
}

func defaultGate(t *testing.T) *Gate {
	t.Helper()
	g, err := NewGate(DefaultGateConfig())
	require.NoError(t, err)
	return g
}

func TestValidateWeights(t *testing.T) {
	require.NoError(t, ValidateWeights(DefaultWeights()))
	require.NoError(t, ValidateWeights(DesignReviewWeights()))

	assert.Error(t, ValidateWeights(nil))
	assert.Error(t, ValidateWeights([]Weight{{"a", 0.5}, {"b", 0.4}}))
	assert.Error(t, ValidateWeights([]Weight{{"a", 1.2}, {"b", -0.2}}))
	assert.Error(t, ValidateWeights([]Weight{{"a", 0.5}, {"a", 0.5}}))
	assert.Error(t, ValidateWeights([]Weight{{"", 1}}))
}

func TestNewGateRejectsBadConfig(t *testing.T) {
	_, err := NewGate(GateConfig{Weights: []Weight{{"a", 0.9}}, Threshold: 70})
	assert.Error(t, err)
	_, err = NewGate(GateConfig{Weights: DefaultWeights(), Threshold: 120})
	assert.Error(t, err)
}

func TestComputeScoreWeightedSum(t *testing.T) {
	g := defaultGate(t)
	results := dims(
		map[string]float64{DimensionHTML: 100, DimensionCompatibility: 80, DimensionAccessibility: 60, DimensionPerformance: 90, DimensionSpam: 50},
		map[string]bool{DimensionHTML: true, DimensionCompatibility: true, DimensionAccessibility: false, DimensionPerformance: true, DimensionSpam: false},
	)
	qs := g.ComputeScore(results)
	// 25 + 16 + 15 + 13.5 + 7.5 = 77
	assert.Equal(t, 77, qs.Overall)
	assert.True(t, qs.GatePassed)
	require.Len(t, qs.CriticalIssues, 1)
	assert.Contains(t, qs.CriticalIssues[0], "accessibility")
}

func TestComputeScoreRounds(t *testing.T) {
	g, err := NewGate(GateConfig{Weights: []Weight{{"a", 0.5}, {"b", 0.5}}, Threshold: 70})
	require.NoError(t, err)
	qs := g.ComputeScore([]handoff.DimensionScore{{Dimension: "a", Score: 70, Passed: true}, {Dimension: "b", Score: 69, Passed: true}})
	assert.Equal(t, 70, qs.Overall)
	assert.True(t, qs.GatePassed)

	qs = g.ComputeScore([]handoff.DimensionScore{{Dimension: "a", Score: 70, Passed: true}, {Dimension: "b", Score: 68, Passed: true}})
	assert.Equal(t, 69, qs.Overall)
	assert.False(t, qs.GatePassed)
	assert.Equal(t, []string{"overall score 69 is below threshold 70"}, qs.CriticalIssues)
}

func TestComputeScoreGateMatchesThreshold(t *testing.T) {
	g := defaultGate(t)
	for s := 0.0; s <= 100; s += 5 {
		qs := g.ComputeScore(allPassing(s))
		assert.GreaterOrEqual(t, qs.Overall, 0)
		assert.LessOrEqual(t, qs.Overall, 100)
		assert.Equal(t, qs.Overall >= 70, qs.GatePassed, "score %v", s)
	}
}

func TestComputeScoreMonotonic(t *testing.T) {
	g := defaultGate(t)
	base := []float64{40, 55, 70, 85, 60}
	build := func(vals []float64) []handoff.DimensionScore {
		var out []handoff.DimensionScore
		for i, w := range DefaultWeights() {
			out = append(out, handoff.DimensionScore{Dimension: w.Dimension, Score: vals[i]})
		}
		return out
	}
	prevAll := g.ComputeScore(build(base)).Overall
	for i := range base {
		for bump := 1.0; bump <= 60; bump += 7 {
			vals := append([]float64(nil), base...)
			vals[i] += bump
			got := g.ComputeScore(build(vals)).Overall
			assert.GreaterOrEqual(t, got, prevAll, "dimension %d bump %v", i, bump)
		}
	}
}

func TestComputeScoreMissingDimensionFailsSafe(t *testing.T) {
	g := defaultGate(t)
	results := allPassing(100)[:4] // spam missing
	qs := g.ComputeScore(results)
	assert.Equal(t, 85, qs.Overall)
	require.Len(t, qs.Dimensions, 5)
	spam := qs.Dimensions[4]
	assert.Equal(t, DimensionSpam, spam.Dimension)
	assert.False(t, spam.Passed)
	assert.Zero(t, spam.Score)
}

func TestComputeScoreClampsAndIgnoresUnweighted(t *testing.T) {
	g := defaultGate(t)
	results := append(allPassing(100), handoff.DimensionScore{Dimension: "extra", Score: 0, Passed: false})
	results[0].Score = 250
	qs := g.ComputeScore(results)
	assert.Equal(t, 100, qs.Overall)
	assert.Equal(t, 100.0, qs.Dimensions[0].Score)
	assert.Len(t, qs.Dimensions, 6)
}

func TestRecommendationsDedupedInOrder(t *testing.T) {
	g := defaultGate(t)
	results := allPassing(90)
	results[0].Recommendations = []string{"Fix alt text", "Shorten subject"}
	results[1].Recommendations = []string{"fix alt text", "Fix alt text", "Inline CSS"}
	results[2].Recommendations = []string{"Shorten subject"}
	qs := g.ComputeScore(results)
	assert.Equal(t, []string{"Fix alt text", "Shorten subject", "fix alt text", "Inline CSS"}, qs.Recommendations)
}

func TestCriticalIssuesOnlyForBlockingDimensions(t *testing.T) {
	g := defaultGate(t)
	results := allPassing(95)
	results[4].Passed = false // spam is not blocking
	results[4].Issues = []string{"spam trigger: FREE"}
	results[0].Passed = false // html is blocking
	results[0].Issues = []string{"html: unclosed <td>"}
	qs := g.ComputeScore(results)
	assert.True(t, qs.GatePassed)
	assert.Equal(t, []string{"html: blocking dimension failed (score 95)", "html: html: unclosed <td>"}, qs.CriticalIssues)
}

func TestDesignReviewProfile(t *testing.T) {
	g, err := NewGate(GateConfig{Weights: Profiles()["design_review"], Threshold: 70})
	require.NoError(t, err)
	qs := g.ComputeScore([]handoff.DimensionScore{
		{Dimension: "logic", Score: 80, Passed: true},
		{Dimension: "visual", Score: 60, Passed: false},
		{Dimension: "asset", Score: 70, Passed: true},
		{Dimension: "coherence", Score: 90, Passed: true},
	})
	// 24 + 15 + 14 + 22.5 = 75.5 -> 76
	assert.Equal(t, 76, qs.Overall)
	assert.True(t, qs.GatePassed)
}

func TestWeightsFromMapSorted(t *testing.T) {
	ws := WeightsFromMap(map[string]float64{"spam": 0.5, "html": 0.5})
	assert.Equal(t, []Weight{{"html", 0.5}, {"spam", 0.5}}, ws)
}
