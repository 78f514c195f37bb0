package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"conductor/internal/config"
	"conductor/internal/template"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [DIR]",
		Short: "Check the configuration and composition templates",
		Long: `Loads config.yaml and every template in DIR, or in the configured
templates directory when DIR is omitted, and reports every problem found.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.GetDefaultConfigPathOrPanic()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}

	dir := cfg.Templates.Directory
	if len(args) == 1 {
		dir = args[0]
	}
	loaded, err := template.LoadDir(dir)
	out := cmd.OutOrStdout()
	for _, l := range loaded {
		fmt.Fprintf(out, "ok    %s (%s, %d elements)\n", l.Path, l.Composition.Key(), len(l.Composition.Elements))
	}

	var collection *config.ConfigurationErrorCollection
	if errors.As(err, &collection) {
		fmt.Fprintln(out, collection.FormatErrorSummary())
		return fmt.Errorf("%d of %d templates are invalid", collection.Count(), collection.Count()+len(loaded))
	}
	return err
}
