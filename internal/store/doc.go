// Package store persists task records, outbox events, and question-set
// templates in SQLite and exposes helpers for driving their lifecycle.
//
// The Store manages database connections, schema initialization, busy
// retries, heartbeat tracking, stale-task recovery, and the guarded stage
// transitions that mirror the pipeline enum. Stage output writes and their
// follow-up event appends commit in one transaction, so an event never
// exists for a state change that did not also commit.
//
// Treat this package as the single source of truth for pipeline
// persistence semantics; when you add stages or event kinds, update
// schema.sql and bump schemaVersion.
package store
