package config

import (
	"fmt"
	"strings"
)

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Empty keeps LOG_LEVEL.
	Level string `json:"level"`
	// Format is "json" or "console". Empty keeps the APP_ENV behavior.
	Format string `json:"format"`
}

// Validate checks the values are known.
func (c LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: unknown level %s", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging: unknown format %s", c.Format)
	}
	return nil
}
