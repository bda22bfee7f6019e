package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			MaxRetries:       1,
			ImproveFloor:     50,
			RunTimeout:       10 * time.Minute,
			ValidationBudget: time.Second,
			StageTimeout:     5 * time.Minute,
		},
		Validation: ValidationConfig{
			WarningsInvalidate: true,
			QualityThreshold:   70,
			MaxFileSizeBytes:   100_000,
			MaxRenderTimeMs:    3000,
			SubjectMaxLen:      78,
			PreheaderMaxLen:    150,
		},
		Quality: QualityConfig{
			Threshold:          70,
			DimensionThreshold: 70,
			DimensionTimeout:   5 * time.Second,
			Profile:            "email",
			Blocking:           []string{"html", "accessibility"},
			Profiles: map[string]map[string]float64{
				"email": {
					"html":                 0.25,
					"client-compatibility": 0.20,
					"accessibility":        0.25,
					"performance":          0.15,
					"spam":                 0.15,
				},
				"design_review": {
					"logic":     0.30,
					"visual":    0.25,
					"asset":     0.20,
					"coherence": 0.25,
				},
			},
		},
		LLM: LLMConfig{
			Timeout:   30 * time.Second,
			RateLimit: 2,
			Burst:     4,
		},
		Storage:   StorageConfig{Backend: "file"},
		Log:       LogConfig{Level: "info", Format: "console"},
		Telemetry: TelemetryConfig{ServiceName: "mailgate"},
	}
}

// Load reads a YAML file over the built-in defaults, fills stage-level
// defaults and applies MAILGATE_* environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the built-in defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	applyDefaults(cfg)
	ApplyEnv(cfg)
	return cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./mailgate.yaml, ~/.mailgate/config.yaml.
// With no file present it returns the built-in defaults.
func LoadDefault() (*Config, error) {
	candidates := []string{"mailgate.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".mailgate", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := Default()
	applyDefaults(cfg)
	ApplyEnv(cfg)
	return cfg, nil
}

// applyDefaults fills values that depend on other settings.
func applyDefaults(cfg *Config) {
	for name, s := range cfg.Stages {
		if s.Timeout == 0 {
			s.Timeout = cfg.Pipeline.StageTimeout
			cfg.Stages[name] = s
		}
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "file"
	}
	cfg.Storage.Dir = expandHome(cfg.Storage.Dir)
	cfg.Events.DBPath = expandHome(cfg.Events.DBPath)
	cfg.LLM.PromptDir = expandHome(cfg.LLM.PromptDir)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// ApplyEnv overrides cfg from MAILGATE_* variables. Unparseable values are
// ignored.
func ApplyEnv(cfg *Config) {
	cfg.Pipeline.MaxRetries = envInt("MAILGATE_MAX_RETRIES", cfg.Pipeline.MaxRetries)
	cfg.Pipeline.ImproveFloor = envInt("MAILGATE_IMPROVE_FLOOR", cfg.Pipeline.ImproveFloor)
	cfg.Pipeline.RunTimeout = envDuration("MAILGATE_RUN_TIMEOUT", cfg.Pipeline.RunTimeout)
	cfg.Validation.WarningsInvalidate = envBool("MAILGATE_WARNINGS_INVALIDATE", cfg.Validation.WarningsInvalidate)
	cfg.Quality.Threshold = envInt("MAILGATE_QUALITY_THRESHOLD", cfg.Quality.Threshold)
	cfg.Quality.Profile = envStr("MAILGATE_QUALITY_PROFILE", cfg.Quality.Profile)
	cfg.LLM.BaseURL = envStr("MAILGATE_LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = envStr("MAILGATE_LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Model = envStr("MAILGATE_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.Brand = envStr("MAILGATE_LLM_BRAND", cfg.LLM.Brand)
	cfg.LLM.RateLimit = envFloat("MAILGATE_LLM_RATE_LIMIT", cfg.LLM.RateLimit)
	cfg.Storage.Backend = envStr("MAILGATE_STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.Dir = envStr("MAILGATE_STORAGE_DIR", cfg.Storage.Dir)
	cfg.Storage.DatabaseURL = envStr("MAILGATE_DATABASE_URL", cfg.Storage.DatabaseURL)
	cfg.Events.DBPath = envStr("MAILGATE_EVENTS_DB", cfg.Events.DBPath)
	cfg.Log.Level = envStr("MAILGATE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envStr("MAILGATE_LOG_FORMAT", cfg.Log.Format)
	cfg.Telemetry.OTLPEndpoint = envStr("MAILGATE_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.Insecure = envBool("MAILGATE_OTLP_INSECURE", cfg.Telemetry.Insecure)
}

// Weights returns the weights of the configured quality profile.
func (c *Config) Weights() (map[string]float64, bool) {
	w, ok := c.Quality.Profiles[c.Quality.Profile]
	return w, ok
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
