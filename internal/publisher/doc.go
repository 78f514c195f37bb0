// Package publisher turns a lifecycle operation into per-participant command
// messages.
//
// Prepare* computes the owning participants from the element ownership of the
// definition or instance, encodes one command per participant and opens the
// expectation before anything is sent, so even an immediate reply finds it.
// Send then fans the commands out on a bounded errgroup. A transport error
// closes the expectation as FAILED and is returned as api.TransportFailure;
// retrying is left to supervision and the operator.
package publisher
