package quality

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

// Validator evaluates one quality dimension against a read-only payload.
type Validator interface {
	Dimension() string
	Evaluate(ctx context.Context, p handoff.Payload) handoff.DimensionScore
}

// DefaultValidators returns the five email dimension validators, each
// passing at passScore.
func DefaultValidators(passScore float64) []Validator {
	return []Validator{
		HTMLValidator{PassScore: passScore},
		CompatibilityValidator{PassScore: passScore},
		AccessibilityValidator{PassScore: passScore},
		PerformanceValidator{PassScore: passScore, MaxFileSizeBytes: 100_000},
		SpamValidator{PassScore: passScore},
	}
}

// HTMLValidator scores W3C HTML and CSS validation results.
type HTMLValidator struct{ PassScore float64 }

func (HTMLValidator) Dimension() string { return DimensionHTML }

func (v HTMLValidator) Evaluate(_ context.Context, p handoff.Payload) handoff.DimensionScore {
	d := handoff.DimensionScore{Dimension: DimensionHTML}
	if html, _ := p.String("quality_package.validated_html"); strings.TrimSpace(html) == "" {
		d.Issues = append(d.Issues, "validated HTML is empty")
		d.Recommendations = append(d.Recommendations, "Regenerate the validated HTML before delivery")
		return d
	}
	score := 100.0
	htmlErrs, _ := p.Array("test_results.html_validation.errors")
	htmlWarns, _ := p.Array("test_results.html_validation.warnings")
	cssErrs, _ := p.Array("test_results.css_validation.errors")

	score -= 10 * float64(len(htmlErrs))
	score -= 2 * float64(len(htmlWarns))
	score -= 8 * float64(len(cssErrs))
	for _, e := range htmlErrs {
		d.Issues = append(d.Issues, "html: "+itemText(e))
	}
	for _, e := range cssErrs {
		d.Issues = append(d.Issues, "css: "+itemText(e))
	}
	if c, ok := p.Bool("test_results.html_validation.w3c_compliant"); ok && !c {
		if len(htmlErrs) == 0 {
			score -= 20
		}
		d.Issues = append(d.Issues, "HTML is not W3C compliant")
		d.Recommendations = append(d.Recommendations, "Fix W3C validation errors in the HTML")
	}
	if valid, ok := p.Bool("test_results.css_validation.valid"); ok && !valid {
		if len(cssErrs) == 0 {
			score -= 15
		}
		d.Recommendations = append(d.Recommendations, "Fix invalid CSS declarations")
	}
	d.Score = clamp(score)
	d.Passed = d.Score >= v.PassScore
	return d
}

// CompatibilityValidator averages per-client rendering scores.
type CompatibilityValidator struct{ PassScore float64 }

func (CompatibilityValidator) Dimension() string { return DimensionCompatibility }

func (v CompatibilityValidator) Evaluate(_ context.Context, p handoff.Payload) handoff.DimensionScore {
	d := handoff.DimensionScore{Dimension: DimensionCompatibility}
	raw, _ := p.Lookup("test_results.email_client_compatibility.clients")
	clients, _ := raw.(map[string]any)
	if len(clients) == 0 {
		if s, ok := p.Number("test_results.email_client_compatibility.score"); ok {
			d.Score = clamp(s)
			d.Passed = d.Score >= v.PassScore
			return d
		}
		d.Issues = append(d.Issues, "no client compatibility results")
		d.Recommendations = append(d.Recommendations, "Run client rendering tests")
		return d
	}

	names := make([]string, 0, len(clients))
	for n := range clients {
		names = append(names, n)
	}
	sort.Strings(names)
	sum := 0.0
	weak := false
	for _, n := range names {
		s, ok := handoff.ToFloat(clients[n])
		if !ok {
			d.Issues = append(d.Issues, fmt.Sprintf("%s: no numeric score", n))
			continue
		}
		s = clamp(s)
		sum += s
		if s < v.PassScore {
			weak = true
			d.Issues = append(d.Issues, fmt.Sprintf("renders poorly in %s (%.0f)", n, s))
			d.Recommendations = append(d.Recommendations, fmt.Sprintf("Adjust layout for %s", n))
		}
	}
	d.Score = clamp(sum / float64(len(names)))
	d.Passed = d.Score >= v.PassScore && !weak
	return d
}

// AccessibilityValidator reads the accessibility report.
type AccessibilityValidator struct{ PassScore float64 }

func (AccessibilityValidator) Dimension() string { return DimensionAccessibility }

func (v AccessibilityValidator) Evaluate(_ context.Context, p handoff.Payload) handoff.DimensionScore {
	d := handoff.DimensionScore{Dimension: DimensionAccessibility}
	score, ok := p.Number("accessibility_report.score")
	if !ok {
		d.Issues = append(d.Issues, "accessibility score missing")
		d.Recommendations = append(d.Recommendations, "Run an accessibility audit")
		return d
	}
	d.Score = clamp(score)
	issues, _ := p.Array("accessibility_report.issues")
	for _, i := range issues {
		text := itemText(i)
		d.Issues = append(d.Issues, text)
		d.Recommendations = append(d.Recommendations, "Address accessibility issue: "+text)
	}
	compliant, _ := p.Bool("accessibility_report.wcag_aa_compliant")
	if !compliant {
		d.Issues = append(d.Issues, "not WCAG AA compliant")
		d.Recommendations = append(d.Recommendations, "Meet WCAG AA contrast and alt-text requirements")
	}
	d.Passed = compliant && d.Score >= v.PassScore
	return d
}

// PerformanceValidator penalizes heavy or slow emails.
type PerformanceValidator struct {
	PassScore        float64
	MaxFileSizeBytes float64
}

func (PerformanceValidator) Dimension() string { return DimensionPerformance }

func (v PerformanceValidator) Evaluate(_ context.Context, p handoff.Payload) handoff.DimensionScore {
	d := handoff.DimensionScore{Dimension: DimensionPerformance}
	if _, ok := p.Lookup("performance_analysis"); !ok {
		d.Issues = append(d.Issues, "performance analysis missing")
		d.Recommendations = append(d.Recommendations, "Run a performance analysis")
		return d
	}
	score := 100.0
	if s, ok := p.Number("performance_analysis.score"); ok {
		score = s
	}
	limit := v.MaxFileSizeBytes
	if limit <= 0 {
		limit = 100_000
	}
	if size, ok := p.Number("performance_analysis.file_size_bytes"); ok {
		switch {
		case size > limit:
			score -= 40
			d.Issues = append(d.Issues, fmt.Sprintf("file size %.0f bytes exceeds %.0f", size, limit))
			d.Recommendations = append(d.Recommendations, "Reduce HTML size to avoid client clipping")
		case size > 0.75*limit:
			score -= 15
			d.Recommendations = append(d.Recommendations, "Reduce HTML size to avoid client clipping")
		}
	}
	if ms, ok := p.Number("performance_analysis.load_time_ms"); ok {
		switch {
		case ms > 3000:
			score -= 30
			d.Issues = append(d.Issues, fmt.Sprintf("load time %.0fms", ms))
			d.Recommendations = append(d.Recommendations, "Compress images and defer heavy assets")
		case ms > 1500:
			score -= 10
			d.Recommendations = append(d.Recommendations, "Compress images and defer heavy assets")
		}
	}
	if n, ok := p.Number("performance_analysis.image_count"); ok && n > 10 {
		score -= 10
		d.Recommendations = append(d.Recommendations, "Use fewer images")
	}
	d.Score = clamp(score)
	d.Passed = d.Score >= v.PassScore
	return d
}

// SpamValidator maps a 0-10 spam score (lower is better) onto 0-100.
type SpamValidator struct{ PassScore float64 }

func (SpamValidator) Dimension() string { return DimensionSpam }

func (v SpamValidator) Evaluate(_ context.Context, p handoff.Payload) handoff.DimensionScore {
	d := handoff.DimensionScore{Dimension: DimensionSpam}
	spam, ok := p.Number("spam_analysis.spam_score")
	if !ok {
		d.Issues = append(d.Issues, "spam score missing")
		d.Recommendations = append(d.Recommendations, "Run a spam filter check")
		return d
	}
	d.Score = clamp(100 - spam*10)
	triggers, _ := p.Array("spam_analysis.triggers")
	for _, t := range triggers {
		text := itemText(t)
		d.Issues = append(d.Issues, "spam trigger: "+text)
		d.Recommendations = append(d.Recommendations, "Remove spam trigger: "+text)
	}
	d.Passed = spam < 5 && d.Score >= v.PassScore
	return d
}

// itemText renders a report item that may be a string or an object with a
// message or description.
func itemText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, k := range []string{"message", "description", "rule"} {
			if s, ok := t[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return fmt.Sprint(v)
}
