// Package session tracks batch sessions in process memory.
//
// InMemoryStore implements core.SessionRecorder and can forward every call to
// a durable recorder (the SQL store) so live progress stays queryable without
// a database round trip.
package session
