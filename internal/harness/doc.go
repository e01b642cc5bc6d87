// Package harness runs ingestion scenarios against a real engine.
//
// A scenario submits one or more batches of raw telemetry events to a fresh
// engine backed by an in-memory SQLite store, then checks the per-event
// results and the resulting runs, threads and logs.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: chat_retry
//	description: "A retry forks the latest turn"
//	batches:
//	  - - type: chat
//	      event: chat
//	      runId: aaaaaaaa-aaaa-4aaa-aaaa-aaaaaaaaaaaa
//	      parentRunId: 11111111-1111-4111-8111-111111111111
//	      timestamp: "2024-03-01T12:00:01Z"
//	      message: { role: user, content: hi }
//	assertions:
//	  - type: results
//	    batch: 0
//	    success: [true]
//	  - type: run
//	    run: aaaaaaaa-aaaa-4aaa-aaaa-aaaaaaaaaaaa
//	    expect: { type: chat, status: success }
//	  - type: thread
//	    thread: 11111111-1111-4111-8111-111111111111
//	    turns: [aaaaaaaa-aaaa-4aaa-aaaa-aaaaaaaaaaaa]
//
// # Assertion Types
//
//   - results: the success flags of one batch, in processing order
//   - run: a subset of the persisted run's JSON fields, or its absence
//   - thread: the main-line turn ids and the forks under each turn
//   - logs: the number of log entries attached to a run
//
// # Deterministic Testing
//
// Generated turn ids come from testutil.SequentialIDs and parent lookups
// never sleep (testutil.RecordingSleeper), so the same scenario always yields
// byte-identical snapshots for golden comparison.
package harness
