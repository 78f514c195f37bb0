// Package expectation tracks in-flight lifecycle operations.
//
// An Expectation records which participants must acknowledge an operation
// and by when. It is converged once every expected participant responded and
// expired once its deadline passed without that. The Tracker allows one open
// expectation per definition or instance, which is what makes a second
// prime, deploy or lock on the same entity a conflict while the first is in
// flight.
package expectation
