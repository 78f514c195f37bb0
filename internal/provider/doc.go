// Package provider is the commissioning and runtime API of the conductor.
//
// Definition operations (create, update, delete, prime, deprime) and instance
// operations (create, deploy, undeploy, lock, unlock, update, migrate,
// delete) are validated against the lifecycle rules under the entity lock.
// An accepted operation moves the entity into its transient state, opens an
// expectation and persists both before any command leaves the process; the
// call then returns and supervision folds the acknowledgements.
//
// A request for an entity that already has an operation in flight is
// rejected with a ConflictError. Instance requests that are invalid for the
// current state are rejected with an InvalidStateError first.
package provider
