// Package model holds the data types of the automation composition runtime:
// definitions and their element priming state, instances and their element
// deploy/lock state, participants, and the enumerations that make up the
// lifecycle axes.
//
// The types are plain values. Transition rules live in package lifecycle.
package model
