// Package schema declares, per transition type, the shape and business
// constraints a handoff payload must satisfy. Schemas are data: the validator
// evaluates them generically, so a new transition is a new Register call.
package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

// Kind is the JSON type a field must have.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	}
	return "any"
}

// FieldRule constrains the value at one dotted path. Several rules may target
// the same path; once a rule reports an error for a path, later rules for that
// path are skipped.
type FieldRule struct {
	Path     string
	Kind     Kind
	Required bool
	// NonEmpty rejects empty strings (after trimming) and empty arrays.
	NonEmpty bool
	// Min and Max are numeric bounds reported as size_limit.
	Min *float64
	Max *float64
	// MaxLen bounds string length in runes, reported as size_limit.
	MaxLen int
	// AtLeast is a business threshold reported as invalid_value.
	AtLeast *float64
	// MustBeTrue rejects a false boolean as invalid_value.
	MustBeTrue bool
	// Format applies to a string value, or to each element of an array.
	Format Format
	// Severity for everything except missing, mistyped and empty values,
	// which are always critical. Defaults to critical.
	Severity handoff.Severity
	// Message overrides the generated error message.
	Message string
}

// SeverityOrDefault returns the rule severity, defaulting to critical.
func (r FieldRule) SeverityOrDefault() handoff.Severity {
	if r.Severity == "" {
		return handoff.SeverityCritical
	}
	return r.Severity
}

// CrossCheck is a rule spanning several fields.
type CrossCheck struct {
	Name  string
	Check func(p handoff.Payload) []handoff.ValidationError
}

// Schema describes one transition's payload.
type Schema struct {
	Transition handoff.TransitionType
	Fields     []FieldRule
	Checks     []CrossCheck
}

// RequiredPaths returns the distinct required field paths in declaration order.
func (s *Schema) RequiredPaths() []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range s.Fields {
		if f.Required && !seen[f.Path] {
			seen[f.Path] = true
			out = append(out, f.Path)
		}
	}
	return out
}

// Options parameterize the built-in schemas.
type Options struct {
	QualityThreshold float64
	MaxFileSizeBytes float64
	MaxRenderTimeMs  float64
	SubjectMaxLen    int
	PreheaderMaxLen  int
}

// DefaultOptions returns the production thresholds.
func DefaultOptions() Options {
	return Options{
		QualityThreshold: 70,
		MaxFileSizeBytes: 100_000,
		MaxRenderTimeMs:  3000,
		SubjectMaxLen:    78,
		PreheaderMaxLen:  150,
	}
}

// Registry maps transition types to schemas. It is safe for concurrent reads
// and is not expected to change after startup.
type Registry struct {
	mu      sync.RWMutex
	schemas map[handoff.TransitionType]*Schema
}

// NewRegistry returns a registry holding the four built-in transitions.
func NewRegistry(opts Options) *Registry {
	r := &Registry{schemas: make(map[handoff.TransitionType]*Schema)}
	for _, s := range builtins(opts) {
		r.Register(s)
	}
	return r
}

// Default returns a registry built with DefaultOptions.
func Default() *Registry { return NewRegistry(DefaultOptions()) }

// Register adds or replaces the schema for s.Transition.
func (r *Registry) Register(s *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Transition] = s
}

// GetSchema returns the schema for t.
func (r *Registry) GetSchema(t handoff.TransitionType) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[t]
	if !ok {
		return nil, fmt.Errorf("no schema registered for transition %q", t)
	}
	return s, nil
}

// Transitions lists registered transitions, canonical ones first.
func (r *Registry) Transitions() []handoff.TransitionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []handoff.TransitionType
	seen := map[handoff.TransitionType]bool{}
	for _, t := range handoff.Transitions {
		if _, ok := r.schemas[t]; ok {
			out = append(out, t)
			seen[t] = true
		}
	}
	var extra []string
	for t := range r.schemas {
		if !seen[t] {
			extra = append(extra, string(t))
		}
	}
	sort.Strings(extra)
	for _, t := range extra {
		out = append(out, handoff.TransitionType(t))
	}
	return out
}

func f64(v float64) *float64 { return &v }
