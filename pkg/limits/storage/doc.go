// Package storage provides the shared window counter stores.
//
// # Overview
//
// A Store keeps a sliding-window log per key: one entry per admitted
// request, scored by its timestamp in unix microseconds. Every
// implementation provides the same primitives:
//
//   - Hit: purge entries at or before now-window, count the rest, and append
//     one entry when the count is below the limit. This runs as one atomic
//     unit per key.
//   - Peek: count live entries without writing anything.
//   - Reap: purge stale entries and delete the key when nothing is left.
//   - Delete and Scan, for admin resets and the reaper.
//
// # Backends
//
//   - RedisStore: the production backend. Hit and Reap are Lua scripts, so
//     they are atomic on the server whatever the number of gateway
//     processes. Single nodes and clusters are supported.
//   - SQLiteStore: a file-backed store for several processes on one host.
//     Each Hit is an immediate transaction.
//   - MemoryStore: process-local, for development and tests.
//
// RedisStore also has an approximate mode where Hit is split into a read
// pipeline followed by a write pipeline. Two concurrent requests can both
// pass the count in that mode, so it exists only behind the explicit
// approximate_non_atomic configuration flag.
//
// # Errors
//
// Backend failures are returned as *Error values that match ErrUnavailable
// under errors.Is. The limiter treats them as a degraded store and fails open.
package storage
