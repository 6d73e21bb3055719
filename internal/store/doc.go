// Package store provides SQLite-backed durable local state for the client.
//
// It holds two things that must survive a process restart:
//   - the session record: the serialized signed-in user under a fixed key
//   - actor votes: the actor's vote per (item type, item id), consulted on
//     load so the first toggle after a restart sees the persisted vote
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The schema is versioned with PRAGMA user_version; see runMigrations.
package store
