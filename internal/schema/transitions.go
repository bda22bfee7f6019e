package schema

import (
	"fmt"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

func builtins(o Options) []*Schema {
	return []*Schema{
		dataToContent(),
		contentToDesign(o),
		designToQuality(o),
		qualityToDelivery(o),
	}
}

func traceRules() []FieldRule {
	return []FieldRule{
		{Path: "trace_id", Kind: KindString, Required: true, NonEmpty: true, Format: FormatUUID},
		{Path: "timestamp", Kind: KindString, Required: true, NonEmpty: true, Format: FormatTimestamp},
	}
}

func dataToContent() *Schema {
	fields := []FieldRule{
		{Path: "collected_data", Kind: KindObject, Required: true},
		{Path: "collected_data.campaign_brief.topic", Kind: KindString, Required: true, NonEmpty: true},
		{Path: "collected_data.campaign_brief.audience", Kind: KindString, Required: true, NonEmpty: true},
		{Path: "collected_data.campaign_brief.goal", Kind: KindString, Required: true, NonEmpty: true},
		{Path: "collected_data.brand_guidelines.brand_name", Kind: KindString, Required: true, NonEmpty: true},
		{Path: "collected_data.brand_guidelines.primary_color", Kind: KindString, Required: true, NonEmpty: true, Format: FormatHexColor},
		{Path: "collected_data.brand_guidelines.tone", Kind: KindString, Required: true},
		{Path: "collected_data.asset_sources", Kind: KindArray, Required: true, Format: FormatURL},
	}
	return &Schema{
		Transition: handoff.TransitionDataToContent,
		Fields:     append(fields, traceRules()...),
	}
}

func contentToDesign(o Options) *Schema {
	fields := []FieldRule{
		{Path: "content_package.complete_content.subject", Kind: KindString, Required: true, NonEmpty: true},
		{Path: "content_package.complete_content.subject", MaxLen: o.SubjectMaxLen, Severity: handoff.SeverityWarning},
		{Path: "content_package.complete_content.preheader", Kind: KindString, Required: true},
		{Path: "content_package.complete_content.preheader", MaxLen: o.PreheaderMaxLen, Severity: handoff.SeverityWarning},
		{Path: "content_package.complete_content.body", Kind: KindString, Required: true, NonEmpty: true},
		{Path: "content_package.complete_content.cta", Kind: KindString, Required: true, NonEmpty: true},
		{Path: "content_package.content_metadata", Kind: KindObject, Required: true},
		{Path: "content_package.content_metadata.word_count", Kind: KindNumber, Min: f64(0)},
		{Path: "design_requirements.template_type", Kind: KindString, Required: true, NonEmpty: true},
	}
	return &Schema{
		Transition: handoff.TransitionContentToDesign,
		Fields:     append(fields, traceRules()...),
	}
}

func designToQuality(o Options) *Schema {
	fields := []FieldRule{
		{Path: "email_package.html_content", Kind: KindString, Required: true, NonEmpty: true},
		{Path: "email_package.mjml_source", Kind: KindString, Required: true, NonEmpty: true, Format: FormatMJML},
		{Path: "email_package.inline_css", Kind: KindString, Required: true},
		{Path: "email_package.asset_urls", Kind: KindArray, Required: true, Format: FormatURL},
		{Path: "rendering_metadata.template_type", Kind: KindString, Required: true, NonEmpty: true},
		{Path: "rendering_metadata.file_size_bytes", Kind: KindNumber, Required: true, Min: f64(0), Max: f64(o.MaxFileSizeBytes)},
		{Path: "rendering_metadata.render_time_ms", Kind: KindNumber, Required: true, Min: f64(0)},
		{Path: "rendering_metadata.render_time_ms", Max: f64(o.MaxRenderTimeMs), Severity: handoff.SeverityWarning},
		{Path: "rendering_metadata.optimization_applied", Kind: KindArray, Required: true},
		{Path: "rendering_metadata.optimization_applied", NonEmpty: true, Severity: handoff.SeverityWarning,
			Message: "no optimizations were applied"},
		{Path: "design_artifacts", Kind: KindObject, Required: true},
		{Path: "original_content", Kind: KindObject, Required: true},
	}
	return &Schema{
		Transition: handoff.TransitionDesignToQuality,
		Fields:     append(fields, traceRules()...),
	}
}

func qualityToDelivery(o Options) *Schema {
	fields := []FieldRule{
		{Path: "quality_package.validated_html", Kind: KindString, Required: true, NonEmpty: true},
		{Path: "quality_package.quality_score", Kind: KindNumber, Required: true, Min: f64(0), Max: f64(100)},
		{Path: "quality_package.quality_score", AtLeast: f64(o.QualityThreshold)},
		{Path: "quality_package.validation_status", Kind: KindString, Required: true, NonEmpty: true},
		{Path: "quality_package.optimized_assets", Kind: KindArray, Required: true},
		{Path: "test_results.html_validation", Kind: KindObject, Required: true},
		{Path: "test_results.css_validation", Kind: KindObject, Required: true},
		{Path: "test_results.email_client_compatibility", Kind: KindObject, Required: true},
		{Path: "accessibility_report.wcag_aa_compliant", Kind: KindBool, Required: true, MustBeTrue: true,
			Message: "email does not meet WCAG AA"},
		{Path: "accessibility_report.issues", Kind: KindArray, Required: true},
		{Path: "accessibility_report.score", Kind: KindNumber, Required: true, Min: f64(0), Max: f64(100)},
		{Path: "performance_analysis", Kind: KindObject, Required: true},
		{Path: "spam_analysis", Kind: KindObject, Required: true},
	}
	return &Schema{
		Transition: handoff.TransitionQualityToDelivery,
		Fields:     append(fields, traceRules()...),
		Checks: []CrossCheck{
			{Name: "w3c_compliance", Check: checkW3C},
			{Name: "accessibility_issues", Check: checkAccessibilityIssues},
		},
	}
}

func checkW3C(p handoff.Payload) []handoff.ValidationError {
	compliant, ok := p.Bool("test_results.html_validation.w3c_compliant")
	if !ok || compliant {
		return nil
	}
	errs, _ := p.Array("test_results.html_validation.errors")
	if len(errs) == 0 {
		return nil
	}
	return []handoff.ValidationError{{
		Field:     "test_results.html_validation.w3c_compliant",
		ErrorType: handoff.ErrorInvalidValue,
		Severity:  handoff.SeverityCritical,
		Message:   fmt.Sprintf("HTML is not W3C compliant (%d validation errors)", len(errs)),
	}}
}

func checkAccessibilityIssues(p handoff.Payload) []handoff.ValidationError {
	compliant, ok := p.Bool("accessibility_report.wcag_aa_compliant")
	if !ok || !compliant {
		return nil
	}
	issues, _ := p.Array("accessibility_report.issues")
	if len(issues) == 0 {
		return nil
	}
	return []handoff.ValidationError{{
		Field:     "accessibility_report.issues",
		ErrorType: handoff.ErrorInvalidValue,
		Severity:  handoff.SeverityWarning,
		Message:   fmt.Sprintf("%d accessibility issues reported on a compliant email", len(issues)),
	}}
}
