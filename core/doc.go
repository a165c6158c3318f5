// Package core provides the foundational domain types and interfaces used by
// dealmesh. It defines:
//
//   - Car (the immutable input record of one analysis)
//   - AnalysisState (the typed record threaded through the single-car graph)
//   - Patch (a partial state update with per-field merge strategies)
//   - Outcome (the Ok / Err(kind, message) tag every worker result carries)
//   - AgentLog entries (structured diagnostic trail)
//   - Collaborator interfaces (search, prediction, valuation, knowledge base,
//     relational store, graph context, report artifacts)
//
// The package keeps implementation concerns (HTTP providers, SQL, vector
// databases, graph execution) out of scope, exposing small interfaces so that
// concrete backends can be injected at construction time.
package core
