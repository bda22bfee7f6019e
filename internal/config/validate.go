package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/quality"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var storageBackends = map[string]bool{
	"file":     true,
	"postgres": true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	p := cfg.Pipeline
	if p.MaxRetries < 0 {
		add("pipeline.max_retries", "must be >= 0, got %d", p.MaxRetries)
	}
	if p.ImproveFloor < 0 || p.ImproveFloor > 100 {
		add("pipeline.improve_floor", "must be between 0 and 100, got %d", p.ImproveFloor)
	}
	if p.RunTimeout < 0 {
		add("pipeline.run_timeout", "must not be negative")
	}
	if p.ValidationBudget < 0 {
		add("pipeline.validation_budget", "must not be negative")
	}

	v := cfg.Validation
	if v.QualityThreshold < 0 || v.QualityThreshold > 100 {
		add("validation.quality_threshold", "must be between 0 and 100, got %g", v.QualityThreshold)
	}
	if v.MaxFileSizeBytes <= 0 {
		add("validation.max_file_size_bytes", "must be positive")
	}
	if v.SubjectMaxLen <= 0 {
		add("validation.subject_max_len", "must be positive")
	}
	if v.PreheaderMaxLen <= 0 {
		add("validation.preheader_max_len", "must be positive")
	}

	q := cfg.Quality
	if q.Threshold < 0 || q.Threshold > 100 {
		add("quality.threshold", "must be between 0 and 100, got %d", q.Threshold)
	}
	if q.DimensionThreshold < 0 || q.DimensionThreshold > 100 {
		add("quality.dimension_threshold", "must be between 0 and 100, got %g", q.DimensionThreshold)
	}
	for _, name := range sortedKeys(q.Profiles) {
		if err := quality.ValidateWeights(quality.WeightsFromMap(q.Profiles[name])); err != nil {
			add("quality.profiles."+name, "%v", err)
		}
	}
	weights, ok := q.Profiles[q.Profile]
	if !ok {
		add("quality.profile", "unknown profile %q", q.Profile)
	} else {
		for i, b := range q.Blocking {
			if _, known := weights[b]; !known {
				add(fmt.Sprintf("quality.blocking[%d]", i), "dimension %q is not weighted in profile %q", b, q.Profile)
			}
		}
	}

	for _, name := range sortedKeys(cfg.Stages) {
		s := cfg.Stages[name]
		field := "stages." + name
		st, err := handoff.ParseStage(name)
		if err != nil {
			add(field, "unknown stage (want one of %s)", stageNames())
			continue
		}
		if st == handoff.StageDelivery {
			add(field, "Delivery is terminal and produces no handoff")
		}
		if strings.TrimSpace(s.Command) == "" {
			add(field+".command", "is required")
		}
		if s.Timeout < 0 {
			add(field+".timeout", "must not be negative")
		}
	}

	if cfg.LLM.RateLimit < 0 {
		add("llm.rate_limit", "must not be negative")
	}

	if !storageBackends[cfg.Storage.Backend] {
		add("storage.backend", "unknown backend %q (want file or postgres)", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "postgres" && cfg.Storage.DatabaseURL == "" {
		add("storage.database_url", "is required for the postgres backend")
	}

	if err := cfg.LoggingConfig().Validate(); err != nil {
		add("log", "%v", err)
	}

	return errs
}

func stageNames() string {
	names := make([]string, 0, len(handoff.Stages)-1)
	for _, s := range handoff.Stages[:len(handoff.Stages)-1] {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
