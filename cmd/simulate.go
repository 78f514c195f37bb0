package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"conductor/internal/app"
	"conductor/internal/config"
	"conductor/internal/formatting"
	"conductor/internal/template"
)

type simulateOptions struct {
	name        string
	params      []string
	output      string
	noColor     bool
	keep        bool
	stepTimeout time.Duration
}

func newSimulateCmd() *cobra.Command {
	opts := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate TEMPLATE",
		Short: "Walk one composition template through its lifecycle",
		Long: `Commissions TEMPLATE, primes it, creates an instance and deploys it, then
prints the definition, instance, elements and participants. Unless --keep is
given the instance is undeployed and deleted and the definition deprimed.

Storage is kept in memory. When config.yaml declares no participants, a
simulator is started for every participant the template needs.

Parameters are given as key=value. Integers and true/false are converted,
so --param replicas=3 yields a number; anything else is passed as a string.`,
		Example: `  conductor simulate templates/shop.yaml --param tag=1.27 --param replicas=3
  conductor simulate shop.yaml --output json --keep`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "", "Instance name (default <template>-sim)")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "Template parameter as key=value, repeatable")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "table", "Output format: table, plain, json or yaml")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&opts.keep, "keep", false, "Leave the instance deployed")
	cmd.Flags().DurationVar(&opts.stepTimeout, "step-timeout", 30*time.Second, "Deadline of each lifecycle step")
	return cmd
}

func runSimulate(cmd *cobra.Command, path string, opts *simulateOptions) error {
	format, err := formatting.ParseFormat(opts.output)
	if err != nil {
		return err
	}
	params, err := parseParams(opts.params)
	if err != nil {
		return err
	}
	tpl, err := template.LoadFile(path)
	if err != nil {
		return fmt.Errorf("failed to load template %s: %w", path, err)
	}

	cfg := app.NewConfig(debug, silent, configPath)
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = config.GetDefaultConfigPathOrPanic()
	}
	loaded, err := config.LoadConfig(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	app.PrepareSimulation(&loaded, tpl)
	cfg.Conductor = &loaded

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	services := application.Services()
	defer services.Stop(context.Background())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return app.Simulate(ctx, services, tpl, app.SimulateOptions{
		InstanceName: opts.name,
		Parameters:   params,
		StepTimeout:  opts.stepTimeout,
		Keep:         opts.keep,
		Formatter:    formatting.New(formatting.Options{Format: format, Color: !opts.noColor}),
		Out:          cmd.OutOrStdout(),
	})
}

// parseParams turns key=value pairs into template parameters. Integers and
// true/false are converted; everything else stays a string so that values
// like 1.10 keep their spelling.
func parseParams(pairs []string) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		switch {
		case raw == "true" || raw == "false":
			params[key] = raw == "true"
		default:
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				params[key] = n
			} else {
				params[key] = raw
			}
		}
	}
	return params, nil
}
