package handoff

import "fmt"

// ErrorType classifies a validation error.
type ErrorType string

const (
	ErrorSchema         ErrorType = "schema_error"
	ErrorSizeLimit      ErrorType = "size_limit"
	ErrorFormat         ErrorType = "format_error"
	ErrorInvalidValue   ErrorType = "invalid_value"
	ErrorCritical       ErrorType = "critical"
	ErrorChainIntegrity ErrorType = "chain_integrity_error"
)

// Severity of a validation error.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Priority of a correction suggestion.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ChainField is the field name carried by every chain integrity error.
const ChainField = "trace_id_chain"

// ValidationError describes one rule violation at a dotted field path.
type ValidationError struct {
	Field     string    `json:"field"`
	ErrorType ErrorType `json:"errorType"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s [%s/%s]: %s", e.Field, e.ErrorType, e.Severity, e.Message)
}

// CorrectionSuggestion is a prioritized hint produced alongside an error.
type CorrectionSuggestion struct {
	Field           string   `json:"field"`
	Priority        Priority `json:"priority"`
	SuggestedAction string   `json:"suggested_action"`
}

// ValidationResult is the outcome of validating one payload or one chain.
// Warnings holds warning-severity findings that the active policy does not
// count against validity; Errors always decides IsValid.
type ValidationResult struct {
	IsValid               bool                   `json:"isValid"`
	Errors                []ValidationError      `json:"errors"`
	Warnings              []ValidationError      `json:"warnings,omitempty"`
	ValidationDurationMs  float64                `json:"validationDurationMs"`
	CorrectionSuggestions []CorrectionSuggestion `json:"correctionSuggestions"`
}

// Critical returns the errors with critical severity.
func (r ValidationResult) Critical() []ValidationError {
	var out []ValidationError
	for _, e := range r.Errors {
		if e.Severity == SeverityCritical {
			out = append(out, e)
		}
	}
	return out
}

// HasField reports whether any error targets field.
func (r ValidationResult) HasField(field string) bool {
	for _, e := range r.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Fields returns the distinct error fields in first-seen order.
func (r ValidationResult) Fields() []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range r.Errors {
		if !seen[e.Field] {
			seen[e.Field] = true
			out = append(out, e.Field)
		}
	}
	return out
}

// DimensionScore is one quality dimension's outcome.
type DimensionScore struct {
	Dimension       string   `json:"dimension"`
	Score           float64  `json:"score"`
	Passed          bool     `json:"passed"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	TimedOut        bool     `json:"timed_out,omitempty"`
}

// QualityScore is the aggregated quality gate decision.
type QualityScore struct {
	Overall         int              `json:"overall"`
	GatePassed      bool             `json:"gate_passed"`
	Dimensions      []DimensionScore `json:"dimensions"`
	CriticalIssues  []string         `json:"critical_issues"`
	Recommendations []string         `json:"recommendations"`
}

// Failing returns the dimensions that did not pass.
func (q QualityScore) Failing() []DimensionScore {
	var out []DimensionScore
	for _, d := range q.Dimensions {
		if !d.Passed {
			out = append(out, d)
		}
	}
	return out
}
