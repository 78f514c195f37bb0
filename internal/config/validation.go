package config

import (
	"fmt"
	"strings"

	"conductor/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks the whole configuration and returns ValidationErrors
// listing every problem, or nil.
func (c Config) Validate() error {
	var errs ValidationErrors

	s := c.Supervision
	if s.OperationTimeout <= 0 {
		errs.Add("supervision.operationTimeout", "must be positive", s.OperationTimeout)
	}
	if s.ScanInterval <= 0 {
		errs.Add("supervision.scanInterval", "must be positive", s.ScanInterval)
	}
	if s.HeartbeatGrace < s.ScanInterval {
		errs.Add("supervision.heartbeatGrace", "must not be shorter than scanInterval", s.HeartbeatGrace)
	}
	if s.MaxRetries < 0 {
		errs.Add("supervision.maxRetries", "must not be negative", s.MaxRetries)
	}
	if s.WorkerPoolSize <= 0 {
		errs.Add("supervision.workerPoolSize", "must be positive", s.WorkerPoolSize)
	}
	if s.ReconcileWorkers <= 0 {
		errs.Add("supervision.reconcileWorkers", "must be positive", s.ReconcileWorkers)
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageBolt:
		if c.Storage.Path == "" {
			errs.Add("storage.path", "is required for the bolt driver")
		}
	default:
		errs.Add("storage.driver", "must be memory or bolt", c.Storage.Driver)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs.Add("logging.level", err.Error(), c.Logging.Level)
	}
	if f := strings.ToLower(c.Logging.Format); f != "text" && f != "json" {
		errs.Add("logging.format", "must be text or json", c.Logging.Format)
	}

	seen := make(map[string]bool)
	for i, p := range c.Participants {
		field := fmt.Sprintf("participants[%d]", i)
		if strings.TrimSpace(p.ID) == "" {
			errs.Add(field+".id", "is required")
		} else if seen[p.ID] {
			errs.Add(field+".id", "is declared more than once", p.ID)
		}
		seen[p.ID] = true

		switch p.Kind {
		case ParticipantSimulator, ParticipantKubernetes:
		default:
			errs.Add(field+".kind", "must be simulator or kubernetes", p.Kind)
		}
		if len(p.SupportedElementTypes) == 0 {
			errs.Add(field+".supportedElementTypes", "must have at least one item")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
