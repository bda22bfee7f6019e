package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/mailgate/internal/fixtures"
	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/schema"
)

func newValidator(opts ...Option) *Validator {
	return New(schema.Default(), opts...)
}

func errorFor(t *testing.T, r handoff.ValidationResult, field string) handoff.ValidationError {
	t.Helper()
	for _, e := range r.Errors {
		if e.Field == field {
			return e
		}
	}
	t.Fatalf("no error for field %q in %+v", field, r.Errors)
	return handoff.ValidationError{}
}

func TestValidFixturesPassEveryTransition(t *testing.T) {
	v := newValidator()
	for _, tr := range handoff.Transitions {
		t.Run(string(tr), func(t *testing.T) {
			r := v.Validate(fixtures.Valid(tr, ""), tr)
			assert.True(t, r.IsValid, "errors: %+v", r.Errors)
			assert.Empty(t, r.Errors)
			assert.Empty(t, r.CorrectionSuggestions)
		})
	}
}

func TestEmptySubjectYieldsExactlyOneError(t *testing.T) {
	p := fixtures.Valid(handoff.TransitionContentToDesign, "")
	require.NoError(t, p.Set("content_package.complete_content.subject", ""))

	r := newValidator().Validate(p, handoff.TransitionContentToDesign)
	assert.False(t, r.IsValid)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "content_package.complete_content.subject", r.Errors[0].Field)
	assert.Equal(t, handoff.SeverityCritical, r.Errors[0].Severity)
}

func TestMissingFieldIsSchemaError(t *testing.T) {
	p := fixtures.Valid(handoff.TransitionDesignToQuality, "")
	delete(p["email_package"].(map[string]any), "html_content")

	r := newValidator().Validate(p, handoff.TransitionDesignToQuality)
	e := errorFor(t, r, "email_package.html_content")
	assert.Equal(t, handoff.ErrorSchema, e.ErrorType)
	assert.Equal(t, handoff.SeverityCritical, e.Severity)
}

func TestFileSizeOverLimit(t *testing.T) {
	p := fixtures.Valid(handoff.TransitionDesignToQuality, "")
	require.NoError(t, p.Set("rendering_metadata.file_size_bytes", 150000))

	r := newValidator().Validate(p, handoff.TransitionDesignToQuality)
	assert.False(t, r.IsValid)
	e := errorFor(t, r, "rendering_metadata.file_size_bytes")
	assert.Equal(t, handoff.ErrorSizeLimit, e.ErrorType)
}

func TestQualityScoreThreshold(t *testing.T) {
	v := newValidator()

	low := fixtures.Valid(handoff.TransitionQualityToDelivery, "")
	require.NoError(t, low.Set("quality_package.quality_score", 65))
	r := v.Validate(low, handoff.TransitionQualityToDelivery)
	assert.False(t, r.IsValid)
	e := errorFor(t, r, "quality_package.quality_score")
	assert.Equal(t, handoff.SeverityCritical, e.Severity)
	assert.Equal(t, handoff.ErrorInvalidValue, e.ErrorType)

	ok := fixtures.Valid(handoff.TransitionQualityToDelivery, "")
	require.NoError(t, ok.Set("quality_package.quality_score", 85))
	r = v.Validate(ok, handoff.TransitionQualityToDelivery)
	assert.True(t, r.IsValid, "errors: %+v", r.Errors)
}

func TestWCAGNonCompliance(t *testing.T) {
	p := fixtures.Valid(handoff.TransitionQualityToDelivery, "")
	require.NoError(t, p.Set("accessibility_report.wcag_aa_compliant", false))
	require.NoError(t, p.Set("accessibility_report.score", 45))

	r := newValidator().Validate(p, handoff.TransitionQualityToDelivery)
	assert.False(t, r.IsValid)
	e := errorFor(t, r, "accessibility_report.wcag_aa_compliant")
	assert.Equal(t, handoff.ErrorInvalidValue, e.ErrorType)
	assert.Equal(t, handoff.SeverityCritical, e.Severity)
}

func TestW3CNonComplianceWithErrors(t *testing.T) {
	v := newValidator()
	p := fixtures.Valid(handoff.TransitionQualityToDelivery, "")
	require.NoError(t, p.Set("test_results.html_validation.w3c_compliant", false))

	// Non-compliant with no listed errors is tolerated.
	assert.True(t, v.Validate(p, handoff.TransitionQualityToDelivery).IsValid)

	require.NoError(t, p.Set("test_results.html_validation.errors", []any{"unclosed <td>"}))
	r := v.Validate(p, handoff.TransitionQualityToDelivery)
	assert.False(t, r.IsValid)
	e := errorFor(t, r, "test_results.html_validation.w3c_compliant")
	assert.Equal(t, handoff.SeverityCritical, e.Severity)
}

func TestFormatErrors(t *testing.T) {
	v := newValidator()

	p := fixtures.Valid(handoff.TransitionDesignToQuality, "")
	require.NoError(t, p.Set("email_package.asset_urls", []any{"https://cdn.example.com/a.png", "not a url"}))
	e := errorFor(t, v.Validate(p, handoff.TransitionDesignToQuality), "email_package.asset_urls")
	assert.Equal(t, handoff.ErrorFormat, e.ErrorType)
	assert.Contains(t, e.Message, "[1]")

	p = fixtures.Valid(handoff.TransitionDesignToQuality, "")
	require.NoError(t, p.Set("email_package.mjml_source", "<mjml><mj-body><mj-column></mj-column></mj-body></mjml>"))
	e = errorFor(t, v.Validate(p, handoff.TransitionDesignToQuality), "email_package.mjml_source")
	assert.Equal(t, handoff.ErrorFormat, e.ErrorType)

	p = fixtures.Valid(handoff.TransitionContentToDesign, "")
	p["trace_id"] = "run-1"
	e = errorFor(t, v.Validate(p, handoff.TransitionContentToDesign), "trace_id")
	assert.Equal(t, handoff.ErrorFormat, e.ErrorType)

	p = fixtures.Valid(handoff.TransitionContentToDesign, "")
	p["timestamp"] = "yesterday"
	e = errorFor(t, v.Validate(p, handoff.TransitionContentToDesign), "timestamp")
	assert.Equal(t, handoff.ErrorFormat, e.ErrorType)
}

func TestWrongTypeIsSchemaError(t *testing.T) {
	p := fixtures.Valid(handoff.TransitionDesignToQuality, "")
	require.NoError(t, p.Set("rendering_metadata.file_size_bytes", "42kb"))
	e := errorFor(t, newValidator().Validate(p, handoff.TransitionDesignToQuality), "rendering_metadata.file_size_bytes")
	assert.Equal(t, handoff.ErrorSchema, e.ErrorType)
}

func TestMultipleErrorsReported(t *testing.T) {
	p := fixtures.Valid(handoff.TransitionQualityToDelivery, "")
	require.NoError(t, p.Set("quality_package.quality_score", 40))
	require.NoError(t, p.Set("accessibility_report.wcag_aa_compliant", false))
	delete(p, "spam_analysis")

	r := newValidator().Validate(p, handoff.TransitionQualityToDelivery)
	assert.Len(t, r.Errors, 3)
	assert.Len(t, r.CorrectionSuggestions, 3)
	for _, s := range r.CorrectionSuggestions {
		assert.Equal(t, handoff.PriorityHigh, s.Priority)
		assert.NotEmpty(t, s.SuggestedAction)
	}
}

func TestValidateIsIdempotentAndPure(t *testing.T) {
	v := newValidator()
	p := fixtures.Valid(handoff.TransitionDesignToQuality, "")
	require.NoError(t, p.Set("rendering_metadata.file_size_bytes", 150000))
	before := p.Clone()

	a := v.Validate(p, handoff.TransitionDesignToQuality)
	b := v.Validate(p, handoff.TransitionDesignToQuality)
	a.ValidationDurationMs, b.ValidationDurationMs = 0, 0
	assert.Equal(t, a, b)
	assert.Equal(t, before, p)
}

func TestWarningPolicy(t *testing.T) {
	p := fixtures.Valid(handoff.TransitionContentToDesign, "")
	require.NoError(t, p.Set("content_package.complete_content.preheader", string(make([]byte, 200))))

	strict := newValidator().Validate(p, handoff.TransitionContentToDesign)
	assert.False(t, strict.IsValid)
	e := errorFor(t, strict, "content_package.complete_content.preheader")
	assert.Equal(t, handoff.SeverityWarning, e.Severity)
	assert.Equal(t, handoff.ErrorSizeLimit, e.ErrorType)

	lenient := newValidator(WithPolicy(Policy{WarningsInvalidate: false})).Validate(p, handoff.TransitionContentToDesign)
	assert.True(t, lenient.IsValid)
	assert.Empty(t, lenient.Errors)
	require.Len(t, lenient.Warnings, 1)
	assert.Equal(t, "content_package.complete_content.preheader", lenient.Warnings[0].Field)
	require.Len(t, lenient.CorrectionSuggestions, 1)
	assert.Equal(t, handoff.PriorityMedium, lenient.CorrectionSuggestions[0].Priority)

	// Critical errors invalidate regardless of policy.
	require.NoError(t, p.Set("content_package.complete_content.body", ""))
	r := newValidator(WithPolicy(Policy{WarningsInvalidate: false})).Validate(p, handoff.TransitionContentToDesign)
	assert.False(t, r.IsValid)
}

func TestUnknownTransitionAndNilPayload(t *testing.T) {
	v := newValidator()
	r := v.Validate(handoff.Payload{}, handoff.TransitionType("Delivery->Content"))
	require.Len(t, r.Errors, 1)
	assert.Equal(t, handoff.ErrorCritical, r.Errors[0].ErrorType)
	assert.Equal(t, "transition", r.Errors[0].Field)

	r = v.Validate(nil, handoff.TransitionContentToDesign)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "payload", r.Errors[0].Field)
}

func TestCustomTransitionNeedsOnlySchema(t *testing.T) {
	reg := schema.Default()
	custom := handoff.TransitionType("Delivery->Archive")
	reg.Register(&schema.Schema{
		Transition: custom,
		Fields: []schema.FieldRule{
			{Path: "archive.url", Kind: schema.KindString, Required: true, Format: schema.FormatURL},
		},
	})
	v := New(reg)
	assert.True(t, v.Validate(handoff.Payload{"archive": map[string]any{"url": "https://a.example/x"}}, custom).IsValid)
	assert.False(t, v.Validate(handoff.Payload{}, custom).IsValid)
}

func TestSlowUsesBudget(t *testing.T) {
	v := newValidator(WithBudget(0))
	assert.True(t, v.Slow(handoff.ValidationResult{ValidationDurationMs: 0.5}))
	v = newValidator()
	assert.False(t, v.Slow(handoff.ValidationResult{ValidationDurationMs: 12}))
}
