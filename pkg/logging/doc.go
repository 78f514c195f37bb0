// Package logging provides the subsystem-tagged logging facade used across
// conductor.
//
// It wraps log/slog with a small set of printf-style helpers. Every entry
// carries a "subsystem" attribute naming the component that produced it, and
// errors are attached as an "error" attribute rather than folded into the
// message text.
//
// # Usage
//
//	logging.Init(logging.LevelInfo, logging.FormatJSON, os.Stderr)
//
//	logging.Info("Provider", "Priming composition %s", id)
//	logging.Debug("Dispatcher", "Dropping message of unknown type %q", t)
//	logging.Error("Supervision", err, "Failed to persist instance %s", id)
//
// Until Init is called all log calls are discarded, which keeps package
// tests quiet unless they opt in.
package logging
