// Package store provides SQLite-backed durable storage for the crmorbit
// event log.
//
// The store is an append-only log of events plus a small metadata table:
//   - events: one row per event, payload stored as RFC 8785 canonical JSON
//   - metadata: key/value pairs such as the local device id
//
// # Ordering
//
// Every event row carries an INTEGER seq assigned on insert. Reads use
// ORDER BY seq ASC, id ASC COLLATE BINARY so that Load returns events in
// exactly the order they were appended. Replay order (timestamp, id) is
// applied by the merge package, never by SQL.
//
// # Idempotency
//
// Events are keyed by id. Appending an id that is already stored is a
// no-op, so re-delivering a sync batch never duplicates rows.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// MemoryLog implements the same contract without a database and is used
// by tests and by the CLI's --memory mode.
package store
