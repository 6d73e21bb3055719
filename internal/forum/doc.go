// Package forum defines the client-side data model of the puzzle-gated
// forum and the error taxonomy shared by every engine.
//
// # Invariants
//
//   - A thread with no required puzzle is always unlocked.
//   - A thread requiring puzzle p is unlocked iff p exists and is completed.
//   - Upvote and downvote counters are never negative.
//   - For one actor and item, at most one of up/down is active.
//   - AggregateStats is always a count over the current collections.
//
// Net vote values are computed on demand by Thread.Net and Post.Net and are
// never stored.
package forum
