// Package supervision keeps the stored definitions and instances in line with
// what participants report.
//
// Participant messages arrive through a dispatch.Dispatcher. Their handlers
// fold acks and status reports into the affected entity under its entity
// lock and queue the entity for reconciliation. Workers drain that queue and
// a periodic Scan walks every open expectation, so an expectation is settled
// promptly after the last ack and still expires when no ack ever arrives.
//
// Reconciling an entity settles its open expectation:
//
//   - a participant reporting FAILED marks the entity FAILED and closes the
//     expectation, leaving the entity in its transient state
//   - once every owner has acknowledged, the terminal state is applied
//   - a deferred expectation is sent once all its owners are active
//   - past the deadline the entity shows TIMEOUT and the commands are sent
//     again to the silent participants, up to MaxRetries times, after which
//     the entity is marked FAILED
//
// Scan also flags participants whose heartbeat is overdue and requests a
// status report from them. Overlapping scans are skipped.
package supervision
