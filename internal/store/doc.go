// Package store persists definitions, instances and participants.
//
// Store implements Repository over a small key/value Backend; package
// memory provides an in-process backend and package bolt a durable one
// based on bbolt. Every save is a compare-and-swap on the entity's
// Revision. UpdateDefinition and UpdateInstance wrap the load, apply and
// save cycle and retry a lost race by re-reading and re-applying.
//
// EntityLocks provides the per-entity mutual exclusion that folds and
// transitions run under.
package store
