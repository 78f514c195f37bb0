// Package dispatch decodes raw bus messages and routes each one to the single
// handler registered for its message type.
//
// The discriminator is the envelope's messageType field unless a dotted path
// is configured with WithDiscriminator. Undecodable messages, unknown types,
// handler errors and handler panics are all counted and logged; none of them
// stop dispatching.
package dispatch
