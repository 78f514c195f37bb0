package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"conductor/pkg/logging"
)

const (
	userConfigDir       = ".config/conductor"
	configFileName      = "config.yaml"
	templatesDirName    = "templates"
	defaultDatabaseName = "conductor.db"
)

// GetDefaultConfigPathOrPanic returns ~/.config/conductor.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads config.yaml from configPath on top of the defaults.
// Relative template and database paths are resolved against configPath.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return Config{}, err
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	resolvePaths(&config, configPath)
	applyParticipantDefaults(&config)

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration in %s: %w", configFilePath, err)
	}
	return config, nil
}

func resolvePaths(cfg *Config, configPath string) {
	if cfg.Templates.Directory == "" {
		cfg.Templates.Directory = filepath.Join(configPath, templatesDirName)
	} else if !filepath.IsAbs(cfg.Templates.Directory) {
		cfg.Templates.Directory = filepath.Join(configPath, cfg.Templates.Directory)
	}

	if cfg.Storage.Driver != StorageBolt {
		return
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(configPath, defaultDatabaseName)
	} else if !filepath.IsAbs(cfg.Storage.Path) {
		cfg.Storage.Path = filepath.Join(configPath, cfg.Storage.Path)
	}
}
