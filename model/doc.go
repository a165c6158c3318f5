// Package model defines the provider-agnostic abstractions for the language
// models consulted by the pipeline (independent deal opinion, consistency
// critique, summary rewrite, knowledge-base analysis, free-text extraction).
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (openai, anthropic, and OpenAI-compatible endpoints via compat)
// implement the Model interface so workers stay decoupled from vendor SDKs.
// Most callers only need Complete, which drains a generation into text.
package model
