package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"conductor/internal/config"
	"conductor/pkg/logging"
)

// Application represents the main application structure that bootstraps and
// runs conductor.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: load configuration, initialize logging, wire services
//  2. Execution phase: start the services and block until a signal arrives
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads the configuration, sets up logging and initializes
// all services. Nothing is started yet.
func NewApplication(cfg *Config) (*Application, error) {
	if cfg.Conductor == nil {
		if cfg.ConfigPath == "" {
			cfg.ConfigPath = config.GetDefaultConfigPathOrPanic()
		}
		loaded, err := config.LoadConfig(cfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load conductor configuration from path %s: %w", cfg.ConfigPath, err)
		}
		cfg.Conductor = &loaded
	}

	if err := initLogging(cfg); err != nil {
		return nil, err
	}
	logging.Info("Bootstrap", "Using %s storage, templates from %s", cfg.Conductor.Storage.Driver, cfg.Conductor.Templates.Directory)

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

func initLogging(cfg *Config) error {
	level, err := logging.ParseLevel(cfg.Conductor.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid logging level: %w", err)
	}
	if cfg.Debug {
		level = logging.LevelDebug
	}

	var output io.Writer = os.Stdout
	if cfg.Silent {
		output = io.Discard
	}
	logging.Init(level, logging.Format(cfg.Conductor.Logging.Format), output)
	return nil
}

// Services returns the wired services.
func (a *Application) Services() *Services {
	return a.services
}

// Run starts the services and blocks until ctx is cancelled or the process
// is signalled.
func (a *Application) Run(ctx context.Context) error {
	return runServer(ctx, a.services)
}
