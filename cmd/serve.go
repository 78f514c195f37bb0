package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"conductor/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the composition runtime until interrupted",
		Long: `Starts the runtime: storage, the in-process bus, supervision and every
participant declared in config.yaml. Composition templates found in the
templates directory are commissioned on start, and re-commissioned on change
when templates.watch is set.

Configuration is read from config.yaml in the directory given by
--config-path, or $HOME/.config/conductor when unset:
  - config.yaml (supervision, storage, logging, participants)
  - templates/ (composition templates)

The runtime stops on SIGINT or SIGTERM. Participants deregister before exit.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	application, err := app.NewApplication(app.NewConfig(debug, silent, configPath))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}
