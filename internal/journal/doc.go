// Package journal provides a SQLite-backed, append-only record of the
// mutations a Store accepts.
//
// A Journal is attached to a Store as an observer. Every accepted mutation
// becomes one row holding its logical seq, module, mutation name, the new
// state as canonical JSON and a fingerprint of that state. Each Open starts
// a new run, identified by a UUIDv7, so several executions can share one
// database file.
//
// The journal is a trace for inspection (statecore trace). It is never read
// back into a Store.
//
// # Ordering
//
// All ordering uses seq (the Store's logical clock), never wall time.
// Queries use ORDER BY seq ASC so results are identical across reads.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: mutations must reference an existing run
package journal
