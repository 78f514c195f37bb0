// Package api defines the error types returned by conductor's operations.
//
// Callers classify failures with the Is* helpers rather than by message:
// NotFound for unknown entities, Conflict for an operation already in flight
// or a duplicate definition key, PreconditionFailed for requests that cannot
// be satisfied yet (an unprimed definition, a missing template parameter),
// InvalidState for operations the lifecycle does not allow, TransportFailure
// when a command could not be published and DecodeError for malformed
// participant messages.
package api
