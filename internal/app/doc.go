// Package app bootstraps and runs conductor.
//
// NewApplication loads the configuration, initialises logging and wires the
// runtime: the repository (memory or bbolt), the in-process bus, the
// participant registry, the expectation tracker, the command publisher, the
// dispatcher, the supervisor and the provider. Participants declared in the
// configuration are started in-process on the same bus.
//
// Services.Start attaches the dispatcher to the participant topic, starts
// supervision and the participants, recovers interrupted work and
// commissions the composition templates found in the template directory.
// With templates.watch set, template files are re-commissioned when they
// change.
//
// Run blocks until SIGINT or SIGTERM and then stops everything in reverse
// order. Simulate drives one template through its whole lifecycle and
// returns, for trying templates out without a long-running server.
package app
