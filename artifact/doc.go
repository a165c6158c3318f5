// Package artifact contains concrete implementations of core.ArtifactStore,
// the sink for batch report artifacts (JSON and markdown).
//
// The canonical interface lives in the core package to avoid dependency
// cycles. Implementations here (in-memory, local directory) and in
// artifact/minio can be swapped without touching calling code; callers should
// depend on the core interface rather than concrete types.
package artifact
