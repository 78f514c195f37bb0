package app

import (
	"conductor/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level.
	Debug bool

	// Silent discards all log output.
	Silent bool

	// ConfigPath is the directory holding config.yaml and the templates
	// directory. Empty means ~/.config/conductor.
	ConfigPath string

	// Conductor is the loaded configuration. When set before
	// NewApplication, loading from ConfigPath is skipped.
	Conductor *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(debug, silent bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Silent:     silent,
		ConfigPath: configPath,
	}
}
