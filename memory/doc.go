// Package memory contains an in-process core.KnowledgeBase. The interface and
// item types reside in the core package; depend on core.KnowledgeBase in your
// code and select an implementation (this keyword store, or the chromem-go
// store in package vector) at wiring time.
package memory
