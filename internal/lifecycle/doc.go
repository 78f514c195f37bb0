// Package lifecycle holds the transition rules of the automation composition
// state machine.
//
// A definition moves along the priming axis COMMISSIONED, PRIMING, PRIMED,
// DEPRIMING and back to COMMISSIONED. An instance has two orthogonal axes:
// the deploy axis (UNDEPLOYED, DEPLOYING, DEPLOYED, UPDATING, MIGRATING,
// UNDEPLOYING) and the lock axis (NONE, LOCKED, LOCKING, UNLOCKED,
// UNLOCKING), the latter only meaningful while DEPLOYED.
//
// The package has three groups of functions:
//
//   - Check* guards validate a request against the current state and return
//     an api error when it is not legal.
//   - Begin* and Complete* apply the transient and terminal state of an
//     operation.
//   - Fold* apply participant acknowledgements and status reports. Folds are
//     idempotent.
//
// Nothing here performs I/O or takes locks; callers own persistence and
// mutual exclusion.
package lifecycle
