// Package validator checks handoff payloads against the schema registry.
package validator

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/schema"
)

// Policy maps severities to validity.
type Policy struct {
	// WarningsInvalidate counts warning-severity findings as errors. When
	// false they are reported in ValidationResult.Warnings instead.
	WarningsInvalidate bool
}

// DefaultPolicy treats any finding as invalidating.
func DefaultPolicy() Policy { return Policy{WarningsInvalidate: true} }

// Validator is stateless apart from its read-only registry and may be shared.
type Validator struct {
	registry *schema.Registry
	policy   Policy
	budget   time.Duration
}

// Option configures a Validator.
type Option func(*Validator)

// WithPolicy sets the severity policy.
func WithPolicy(p Policy) Option { return func(v *Validator) { v.policy = p } }

// WithBudget sets the duration above which a validation is considered slow.
func WithBudget(d time.Duration) Option { return func(v *Validator) { v.budget = d } }

// New builds a Validator over reg.
func New(reg *schema.Registry, opts ...Option) *Validator {
	v := &Validator{registry: reg, policy: DefaultPolicy(), budget: time.Second}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Policy returns the active severity policy.
func (v *Validator) Policy() Policy { return v.policy }

// Budget returns the slow-validation threshold.
func (v *Validator) Budget() time.Duration { return v.budget }

// Slow reports whether r took longer than the validator's budget.
func (v *Validator) Slow(r handoff.ValidationResult) bool {
	return r.ValidationDurationMs > float64(v.budget)/float64(time.Millisecond)
}

// Validate checks p against the schema for t. It never mutates p and its
// result depends only on (p, t) apart from the recorded duration.
func (v *Validator) Validate(p handoff.Payload, t handoff.TransitionType) handoff.ValidationResult {
	start := time.Now()
	found := v.collect(p, t)

	res := handoff.ValidationResult{
		Errors:                []handoff.ValidationError{},
		CorrectionSuggestions: []handoff.CorrectionSuggestion{},
	}
	for _, e := range found {
		if e.Severity == handoff.SeverityWarning && !v.policy.WarningsInvalidate {
			res.Warnings = append(res.Warnings, e)
			continue
		}
		res.Errors = append(res.Errors, e)
	}
	for _, e := range found {
		res.CorrectionSuggestions = append(res.CorrectionSuggestions, Suggest(e))
	}
	res.IsValid = len(res.Errors) == 0
	res.ValidationDurationMs = float64(time.Since(start).Microseconds()) / 1000
	return res
}

func (v *Validator) collect(p handoff.Payload, t handoff.TransitionType) []handoff.ValidationError {
	if p == nil {
		return []handoff.ValidationError{{
			Field:     "payload",
			ErrorType: handoff.ErrorCritical,
			Severity:  handoff.SeverityCritical,
			Message:   "payload is empty",
		}}
	}
	sc, err := v.registry.GetSchema(t)
	if err != nil {
		return []handoff.ValidationError{{
			Field:     "transition",
			ErrorType: handoff.ErrorCritical,
			Severity:  handoff.SeverityCritical,
			Message:   err.Error(),
		}}
	}

	var out []handoff.ValidationError
	failed := map[string]bool{}
	for _, rule := range sc.Fields {
		if failed[rule.Path] {
			continue
		}
		if e, bad := checkRule(rule, p); bad {
			failed[rule.Path] = true
			out = append(out, e)
		}
	}
	for _, c := range sc.Checks {
		for _, e := range c.Check(p) {
			if failed[e.Field] {
				continue
			}
			failed[e.Field] = true
			out = append(out, e)
		}
	}
	return out
}

func checkRule(r schema.FieldRule, p handoff.Payload) (handoff.ValidationError, bool) {
	fail := func(et handoff.ErrorType, sev handoff.Severity, format string, args ...any) (handoff.ValidationError, bool) {
		msg := r.Message
		if msg == "" {
			msg = fmt.Sprintf(format, args...)
		}
		return handoff.ValidationError{Field: r.Path, ErrorType: et, Severity: sev, Message: msg}, true
	}
	sev := r.SeverityOrDefault()

	val, ok := p.Lookup(r.Path)
	if !ok || val == nil {
		if r.Required {
			return fail(handoff.ErrorSchema, handoff.SeverityCritical, "required field is missing")
		}
		return handoff.ValidationError{}, false
	}
	if r.Kind != schema.KindAny && !kindMatches(r.Kind, val) {
		return fail(handoff.ErrorSchema, handoff.SeverityCritical, "expected %s, got %s", r.Kind, describe(val))
	}

	switch x := val.(type) {
	case string:
		if r.NonEmpty && strings.TrimSpace(x) == "" {
			return fail(handoff.ErrorInvalidValue, sev, "must not be empty")
		}
		if r.MaxLen > 0 {
			if n := utf8.RuneCountInString(x); n > r.MaxLen {
				return fail(handoff.ErrorSizeLimit, sev, "length %d exceeds maximum %d", n, r.MaxLen)
			}
		}
		if r.Format != schema.FormatNone {
			if err := schema.CheckFormat(r.Format, x); err != nil {
				return fail(handoff.ErrorFormat, sev, "%v", err)
			}
		}
	case bool:
		if r.MustBeTrue && !x {
			return fail(handoff.ErrorInvalidValue, sev, "must be true")
		}
	}

	if n, isNum := handoff.ToFloat(val); isNum {
		if r.Min != nil && n < *r.Min {
			return fail(handoff.ErrorSizeLimit, sev, "value %g is below minimum %g", n, *r.Min)
		}
		if r.Max != nil && n > *r.Max {
			return fail(handoff.ErrorSizeLimit, sev, "value %g exceeds maximum %g", n, *r.Max)
		}
		if r.AtLeast != nil && n < *r.AtLeast {
			return fail(handoff.ErrorInvalidValue, sev, "value %g is below required threshold %g", n, *r.AtLeast)
		}
	}

	if arr, isArr := handoff.AsArray(val); isArr {
		if r.NonEmpty && len(arr) == 0 {
			return fail(handoff.ErrorInvalidValue, sev, "must not be empty")
		}
		if r.Format != schema.FormatNone {
			var bad []string
			for i, el := range arr {
				s, isStr := el.(string)
				if !isStr {
					bad = append(bad, fmt.Sprintf("[%d] is %s", i, describe(el)))
					continue
				}
				if err := schema.CheckFormat(r.Format, s); err != nil {
					bad = append(bad, fmt.Sprintf("[%d] %q: %v", i, s, err))
				}
			}
			if len(bad) > 0 {
				return fail(handoff.ErrorFormat, sev, "invalid %s elements: %s", r.Format, strings.Join(bad, "; "))
			}
		}
	}
	return handoff.ValidationError{}, false
}

func kindMatches(k schema.Kind, v any) bool {
	switch k {
	case schema.KindString:
		_, ok := v.(string)
		return ok
	case schema.KindNumber:
		_, ok := handoff.ToFloat(v)
		return ok
	case schema.KindBool:
		_, ok := v.(bool)
		return ok
	case schema.KindObject:
		switch v.(type) {
		case map[string]any, handoff.Payload:
			return true
		}
		return false
	case schema.KindArray:
		_, ok := handoff.AsArray(v)
		return ok
	}
	return true
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any, handoff.Payload:
		return "object"
	}
	if _, ok := handoff.ToFloat(v); ok {
		return "number"
	}
	if _, ok := handoff.AsArray(v); ok {
		return "array"
	}
	return fmt.Sprintf("%T", v)
}
