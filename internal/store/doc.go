// Package store provides the SQLite-backed audit journal of a galed project.
//
// The journal is an append-only log of engine events:
//   - Batches: one row per command invocation (UUIDv7 ID, command, actor)
//   - Events: one row per committed mutation, grouped by batch
//
// # Hash Chain
//
// Each event row stores the canonical JSON of the event (RFC 8785, see
// internal/ir/canonical.go) and a SHA-256 hash with domain separation over
// the previous row's hash and that body. Verify recomputes the chain, so any
// edited or deleted row in the middle of the journal is detected.
//
// # Ordering
//
//   - All ordering uses seq INTEGER (the engine's logical clock), NEVER timestamps
//   - All queries include ORDER BY seq ASC
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
