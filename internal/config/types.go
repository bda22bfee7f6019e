package config

import "time"

// Config is the top-level configuration structure parsed from YAML.
type Config struct {
	Pipeline   PipelineConfig         `yaml:"pipeline"`
	Validation ValidationConfig       `yaml:"validation"`
	Quality    QualityConfig          `yaml:"quality"`
	Stages     map[string]StageConfig `yaml:"stages"`
	LLM        LLMConfig              `yaml:"llm"`
	Storage    StorageConfig          `yaml:"storage"`
	Events     EventsConfig           `yaml:"events"`
	Log        LogConfig              `yaml:"log"`
	Telemetry  TelemetryConfig        `yaml:"telemetry"`
}

// PipelineConfig holds run policy.
type PipelineConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	ImproveFloor     int           `yaml:"improve_floor"`
	RunTimeout       time.Duration `yaml:"run_timeout"`
	ValidationBudget time.Duration `yaml:"validation_budget"`
	StageTimeout     time.Duration `yaml:"stage_timeout"`
}

// ValidationConfig parameterizes the handoff schemas and severity policy.
type ValidationConfig struct {
	WarningsInvalidate bool    `yaml:"warnings_invalidate"`
	QualityThreshold   float64 `yaml:"quality_threshold"`
	MaxFileSizeBytes   float64 `yaml:"max_file_size_bytes"`
	MaxRenderTimeMs    float64 `yaml:"max_render_time_ms"`
	SubjectMaxLen      int     `yaml:"subject_max_len"`
	PreheaderMaxLen    int     `yaml:"preheader_max_len"`
}

// QualityConfig configures the quality gate.
type QualityConfig struct {
	Threshold          int                           `yaml:"threshold"`
	DimensionThreshold float64                       `yaml:"dimension_threshold"`
	DimensionTimeout   time.Duration                 `yaml:"dimension_timeout"`
	Profile            string                        `yaml:"profile"`
	Blocking           []string                      `yaml:"blocking"`
	Profiles           map[string]map[string]float64 `yaml:"profiles"`
}

// StageConfig defines how a stage's payload is produced.
type StageConfig struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// LLMConfig configures the correction fixer.
type LLMConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
	Brand     string        `yaml:"brand"`
	Guidance  string        `yaml:"guidance"`
	PromptDir string        `yaml:"prompt_dir"`
}

// StorageConfig selects where runs and records live.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir"`
	DatabaseURL string `yaml:"database_url"`
}

// EventsConfig locates the SQLite event log.
type EventsConfig struct {
	DBPath string `yaml:"db_path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig configures the OTLP metrics exporter.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	Insecure     bool   `yaml:"insecure"`
}
