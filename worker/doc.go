// Package worker implements the stages of a single-car analysis. Every worker
// has the same shape: it reads an AnalysisState snapshot and returns a
// core.Patch holding its own result slot plus agent log entries.
//
// Workers never return Go errors. A missing collaborator, an unmet upstream
// dependency or a failed external call is recorded as a failed core.Status
// in the worker's slot so that checkers and later stages can react to it.
// No worker substitutes invented data for a missing source.
//
// The market sub-pipeline is Research, Comparison, Scoring and LLMOpinion.
// Condition, Residual, News, Valuation and EarlyRAG run alongside it, and
// Consistency, VectorInsights, Summary, Persist and Report close the run.
package worker
