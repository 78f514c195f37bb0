// Package formatting renders runtime state for the command line as tables,
// JSON or YAML.
package formatting

import (
	"fmt"
	"io"

	"conductor/internal/model"
	"conductor/internal/supervision"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table" // Rich table output
	FormatPlain OutputFormat = "plain" // Borderless table, easy to grep
	FormatJSON  OutputFormat = "json"  // JSON output
	FormatYAML  OutputFormat = "yaml"  // YAML output
)

// Options configures the formatter behavior
type Options struct {
	Format OutputFormat
	Color  bool // Enable colored output
}

// Formatter writes runtime entities to w.
type Formatter interface {
	Definitions(w io.Writer, defs []*model.Definition) error
	Instances(w io.Writer, insts []*model.Instance) error
	Elements(w io.Writer, inst *model.Instance) error
	Participants(w io.Writer, participants []*model.Participant) error
	Metrics(w io.Writer, summary supervision.MetricsSummary) error
}

// ParseFormat validates a format name.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatTable, FormatPlain, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, plain, json or yaml)", s)
	}
}

// New creates the formatter for options.Format.
func New(options Options) Formatter {
	switch options.Format {
	case FormatJSON:
		return &structuredFormatter{marshal: marshalJSON}
	case FormatYAML:
		return &structuredFormatter{marshal: marshalYAML}
	default:
		return &tableFormatter{options: options}
	}
}
