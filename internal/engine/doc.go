// Package engine reconciles telemetry events into run trees and
// conversation threads.
//
// ARCHITECTURE:
//
// Ingestion Sequencer:
// A batch is re-ordered by timestamp and processed sequentially, because a
// child may reference a parent submitted earlier in the same batch. Every
// event gets its own Result; one event's failure never aborts the batch.
// Batches themselves run concurrently with no engine-level locking.
//
// Run State Machine:
//
//	absent --start--> started --end--> success
//	                          --error--> error
//
// feedback merges into any existing run. A start whose parent is not yet
// visible waits once (parent-visibility race) and then drops the link rather
// than fail.
//
// Conversation Reconciliation:
// Chat events carry one role-tagged message addressed to a thread. The engine
// upserts the thread root and folds the message into the latest turn, opens a
// new turn, or forks a sibling turn on retry. Turns form a tree: main-line
// turns have no origin; each retry points at the turn it regenerates.
//
// Log Recorder:
// type "log" events are appended to the run log without touching runs.
//
// Concurrency: the persistence store is the only shared state. Correctness
// across concurrent batches relies on idempotent inserts, the bounded parent
// retry, and last-writer-wins for feedback and chat appends.
package engine
