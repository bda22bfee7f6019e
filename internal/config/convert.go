package config

import (
	"fmt"

	"github.com/lucasnoah/mailgate/internal/llm"
	"github.com/lucasnoah/mailgate/internal/logging"
	"github.com/lucasnoah/mailgate/internal/orchestrator"
	"github.com/lucasnoah/mailgate/internal/quality"
	"github.com/lucasnoah/mailgate/internal/schema"
	"github.com/lucasnoah/mailgate/internal/validator"
)

// SchemaOptions returns the thresholds the handoff schemas are built with.
func (c *Config) SchemaOptions() schema.Options {
	return schema.Options{
		QualityThreshold: c.Validation.QualityThreshold,
		MaxFileSizeBytes: c.Validation.MaxFileSizeBytes,
		MaxRenderTimeMs:  c.Validation.MaxRenderTimeMs,
		SubjectMaxLen:    c.Validation.SubjectMaxLen,
		PreheaderMaxLen:  c.Validation.PreheaderMaxLen,
	}
}

// ValidatorPolicy returns the severity policy.
func (c *Config) ValidatorPolicy() validator.Policy {
	return validator.Policy{WarningsInvalidate: c.Validation.WarningsInvalidate}
}

// GateConfig returns the quality gate configuration for the selected profile.
func (c *Config) GateConfig() (quality.GateConfig, error) {
	return c.GateConfigFor(c.Quality.Profile)
}

// GateConfigFor returns the gate configuration for a named profile.
func (c *Config) GateConfigFor(profile string) (quality.GateConfig, error) {
	w, ok := c.Quality.Profiles[profile]
	if !ok {
		return quality.GateConfig{}, fmt.Errorf("unknown quality profile %q", profile)
	}
	return quality.GateConfig{
		Weights:   quality.WeightsFromMap(w),
		Threshold: c.Quality.Threshold,
		Blocking:  append([]string(nil), c.Quality.Blocking...),
	}, nil
}

// OrchestratorConfig returns run policy.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxRetries:   c.Pipeline.MaxRetries,
		ImproveFloor: c.Pipeline.ImproveFloor,
		RunTimeout:   c.Pipeline.RunTimeout,
	}
}

// LLMConfig returns the correction client configuration.
func (c *Config) LLMConfig() llm.Config {
	return llm.Config{
		BaseURL:   c.LLM.BaseURL,
		APIKey:    c.LLM.APIKey,
		Model:     c.LLM.Model,
		Timeout:   c.LLM.Timeout,
		RateLimit: c.LLM.RateLimit,
		Burst:     c.LLM.Burst,
		Brand:     c.LLM.Brand,
		Guidance:  c.LLM.Guidance,
		PromptDir: c.LLM.PromptDir,
	}
}

// LoggingConfig returns the logger configuration.
func (c *Config) LoggingConfig() *logging.Config {
	return &logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}
