// Package logging provides a minimal logging interface and slog based
// adapters for dealmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the graph executor, workers and engine use. This package
// includes:
//
//   - Logger interface for dependency injection
//   - PipelineLogger with run/component context and pipeline event helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(r, func(o *engine.Options) { o.Logger = logger })
//
// Structured diagnostics that belong to an analysis (agent logs) live in the
// analysis state, not here.
package logging
