// Package bus provides the publish/subscribe Channel abstraction used between
// the runtime and participants, an in-process implementation, and a recording
// wrapper.
//
// Concrete broker bindings (Kafka, DMaaP) implement Channel outside this
// module.
package bus
