package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Fields map[string]string `yaml:"fields"`
}

// NewDefaultConfig logs info and above as console text.
func NewDefaultConfig() *Config {
	return &Config{Level: "info", Format: "console"}
}

// Validate checks level and format.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid level %q: %w", c.Level, err)
	}
	switch c.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid format %q (must be json or console)", c.Format)
	}
	return nil
}
