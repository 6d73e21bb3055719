// Package harness runs end-to-end scenarios of the forum client against an
// in-process dev server.
//
// Each scenario starts a fresh dev server, a fresh in-memory SQLite store for
// the session and vote records, and a client wired to both. Steps call the
// client exactly as the CLI would; the outcome of every step is recorded in a
// trace and checked against its expect clause.
//
// # Scenario Format
//
//	name: unlock_by_solving
//	description: "Solving a puzzle unlocks its threads"
//	users:
//	  - { username: alice, password: pw }
//	faults:
//	  - { method: PATCH, path: /api/threads/1/vote, status: 500 }
//	steps:
//	  - op: login
//	    args: { username: alice, password: pw }
//	  - op: open_thread
//	    args: { id: 2 }
//	    expect: { error: LOCKED }
//	  - op: solve
//	    args: { puzzle: 1, answer: "the eternal city" }
//	    expect:
//	      result: { outcome: solved, unlocked: [2] }
//	assertions:
//	  - type: stats
//	    expect: { puzzlesCompleted: 1 }
//	  - type: thread
//	    id: 2
//	    expect: { unlocked: true }
//
// # Assertion Types
//
//   - stats: subset match on the aggregate stats
//   - thread, post, puzzle: subset match on one entity (exists: false for a
//     removed one)
//   - my_vote: the actor's recorded vote on an item
//   - listing: runs a listing query and matches ids, total and pages
//   - trace_contains, trace_order, trace_count: the sequence of ops
//
// # Deterministic Testing
//
// Timestamps come from a testutil.StepClock, request ids from a fixed
// generator and password hashing runs at the minimum bcrypt cost, so the
// same scenario always produces the same trace and listing snapshot.
package harness
