// Package runner executes the analysis graph for one car at a time.
//
// A Runner owns no analysis state: every Run creates a fresh AnalysisState,
// drives it through the compiled graph and returns the final state together
// with the car report the graph appended. When the executor aborts (step
// limit, node panic) the configured fallback still produces a report marked
// as permanently failed, so callers always get something to aggregate.
//
// Runs can be cancelled individually by run ID.
package runner
