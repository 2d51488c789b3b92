// Package logging provides a minimal logging interface and adapters for genloop.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that sessions, flows and the engine use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - New, building JSON, text or tint (colorized console) handlers from a Config
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger, err := logging.New(logging.Config{Level: logging.LogLevelInfo, Format: "tint"})
//	eng := engine.New(func(o *engine.Options) { o.Model = m; o.Logger = logger })
//
// Event names are dotted keys ("flow.tool.round", "tool.call.attempt_failed").
package logging
