// Package journal records processed events in SQLite and replays them.
//
// Every event a runtime processes is appended with its outcome and, when
// the store holds an ir.Value, a canonical JSON snapshot of the db after
// the event. Events dispatched by other events are journalled on their own,
// so a session replays by running every entry once, in seq order, with
// nothing else draining.
//
// # Ordering
//
//   - seq comes from a per-session logical Clock, never from timestamps
//   - reads use ORDER BY seq ASC, id ASC COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// Entry ids are ir.EventHash(session, event, seq).
package journal
