package config

import (
	"fmt"
	"strings"
)

// ConfigurationError describes one file that could not be loaded.
type ConfigurationError struct {
	FilePath    string   `json:"filePath"`
	FileName    string   `json:"fileName"`
	Category    string   `json:"category"`  // e.g. templates
	ErrorType   string   `json:"errorType"` // parse, validation or io
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (ce ConfigurationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", ce.Category, ce.FileName, ce.Message)
}

// DetailedError renders the error as an indented block for the terminal.
func (ce ConfigurationError) DetailedError() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s error)\n", ce.FilePath, ce.ErrorType)
	fmt.Fprintf(&b, "  %s", ce.Message)
	for _, s := range ce.Suggestions {
		fmt.Fprintf(&b, "\n  hint: %s", s)
	}
	return b.String()
}

// ConfigurationErrorCollection gathers the errors of a directory load so one
// broken file does not hide the others.
type ConfigurationErrorCollection struct {
	Errors []ConfigurationError `json:"errors"`
}

func (cec ConfigurationErrorCollection) Error() string {
	switch len(cec.Errors) {
	case 0:
		return "no configuration errors"
	case 1:
		return cec.Errors[0].Error()
	default:
		return fmt.Sprintf("%d configuration errors, first: %s", len(cec.Errors), cec.Errors[0].Error())
	}
}

func (cec *ConfigurationErrorCollection) HasErrors() bool {
	return len(cec.Errors) > 0
}

func (cec *ConfigurationErrorCollection) Count() int {
	return len(cec.Errors)
}

func (cec *ConfigurationErrorCollection) Add(err ConfigurationError) {
	cec.Errors = append(cec.Errors, err)
}

// FormatErrorSummary renders every error as a DetailedError block.
func (cec *ConfigurationErrorCollection) FormatErrorSummary() string {
	if !cec.HasErrors() {
		return "no configuration errors"
	}
	blocks := make([]string, 0, len(cec.Errors))
	for _, err := range cec.Errors {
		blocks = append(blocks, err.DetailedError())
	}
	return strings.Join(blocks, "\n\n")
}
