package api

import (
	"errors"
	"fmt"
)

// NotFoundError represents a missing definition, instance or participant.
type NotFoundError struct {
	// ResourceType categorizes the resource ("composition", "instance", "participant")
	ResourceType string

	// ResourceName is the identifier that was looked up
	ResourceName string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

// NewNotFoundError creates a new NotFoundError for the given resource.
//
// Example:
//
//	return api.NewNotFoundError("instance", id)
func NewNotFoundError(resourceType, resourceName string) *NotFoundError {
	return &NotFoundError{ResourceType: resourceType, ResourceName: resourceName}
}

// IsNotFound checks if an error is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// ConflictError is returned when a request would violate the single in-flight
// operation rule or a uniqueness constraint. No state is mutated.
type ConflictError struct {
	ResourceType string
	ResourceName string
	Reason       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: %s", e.ResourceType, e.ResourceName, e.Reason)
}

// NewConflictError creates a new ConflictError.
func NewConflictError(resourceType, resourceName, reason string) *ConflictError {
	return &ConflictError{ResourceType: resourceType, ResourceName: resourceName, Reason: reason}
}

// IsConflict checks if an error is or wraps a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// PreconditionFailedError is returned when a request violates a lifecycle
// guard, such as updating a definition that is not COMMISSIONED or that still
// has instances.
type PreconditionFailedError struct {
	ResourceType string
	ResourceName string
	Reason       string
}

func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf("precondition failed for %s %s: %s", e.ResourceType, e.ResourceName, e.Reason)
}

// NewPreconditionFailedError creates a new PreconditionFailedError.
func NewPreconditionFailedError(resourceType, resourceName, reason string) *PreconditionFailedError {
	return &PreconditionFailedError{ResourceType: resourceType, ResourceName: resourceName, Reason: reason}
}

// IsPreconditionFailed checks if an error is or wraps a PreconditionFailedError.
func IsPreconditionFailed(err error) bool {
	var target *PreconditionFailedError
	return errors.As(err, &target)
}

// InvalidStateError is returned when the requested transition is not legal
// from the entity's current state. No expectation is created.
type InvalidStateError struct {
	ResourceType string
	ResourceName string
	Operation    string
	State        string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %s", e.Operation, e.ResourceType, e.ResourceName, e.State)
}

// NewInvalidStateError creates a new InvalidStateError.
func NewInvalidStateError(resourceType, resourceName, operation, state string) *InvalidStateError {
	return &InvalidStateError{
		ResourceType: resourceType,
		ResourceName: resourceName,
		Operation:    operation,
		State:        state,
	}
}

// IsInvalidState checks if an error is or wraps an InvalidStateError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

// TransportFailure wraps an error returned by the message channel while
// publishing a command. The operation's expectation has already been closed
// as failed, so callers may resubmit.
type TransportFailure struct {
	OperationID string
	Err         error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("publishing operation %s failed: %v", e.OperationID, e.Err)
}

func (e *TransportFailure) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may safely resubmit. It is always true.
func (e *TransportFailure) Retryable() bool {
	return true
}

// NewTransportFailure creates a new TransportFailure.
func NewTransportFailure(operationID string, err error) *TransportFailure {
	return &TransportFailure{OperationID: operationID, Err: err}
}

// IsTransportFailure checks if an error is or wraps a TransportFailure.
func IsTransportFailure(err error) bool {
	var target *TransportFailure
	return errors.As(err, &target)
}

// DecodeError describes an inbound message that could not be decoded. It is
// logged and counted by the dispatcher and never returned to a caller.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode message: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError creates a new DecodeError.
func NewDecodeError(reason string, err error) *DecodeError {
	return &DecodeError{Reason: reason, Err: err}
}

// IsDecodeError checks if an error is or wraps a DecodeError.
func IsDecodeError(err error) bool {
	var target *DecodeError
	return errors.As(err, &target)
}
