// Package store provides durable storage for runs, application users and
// run logs.
//
// Two dialects share one query layer:
//   - SQLite (github.com/mattn/go-sqlite3) for files and ":memory:"
//   - Postgres (github.com/lib/pq) for postgres:// and postgresql:// DSNs
//
// # Conventions
//
// Run ids are the primary key; inserts of an existing id are no-ops, so
// re-delivered start events never duplicate a run.
//
// Child lookups go through the (parent_run, created_at) index and retry forks
// through the sibling_of index. Ties on created_at resolve by insertion order
// (rowid on SQLite, seq on Postgres), so "latest child" is deterministic.
//
// JSON payload columns hold canonical JSON (see ir.MarshalCanonical).
// Missing rows are reported as ErrNotFound.
//
// # SQLite configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
