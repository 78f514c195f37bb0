// Package registry keeps the authoritative view of participants: their
// registration state, last heartbeat, supported element types, and which
// elements each one owns.
//
// State changes are persisted through the store with compare-and-swap. A
// participant only becomes TERMINATED through Deregister or an operator
// SetState; FlagStale merely marks silent participants for diagnostics.
package registry
