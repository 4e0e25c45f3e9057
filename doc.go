// Package regionserver defines the core types, errors, and ambient helpers shared
// across the region server: configuration, logging, retry/backoff, UUIDs and
// generic key/value pairs. Concrete subsystems live in subpackages:
// registry (online/retiring region tracking), wal (write-ahead log), region
// (per-range MVCC store), chore (periodic maintenance tasks), master (heartbeat
// protocol client), lease (scanner lease manager), catalog (root/meta tables and
// the merge procedure), storefile (on-disk store file + blob backends), cache
// (L1/L2 caching), and rpc (the client-facing HTTP surface).
package regionserver

// Timeout model
//
// Region server operations (notably commit and master heartbeats) are bounded by
// two timers:
//  1. The caller-provided context deadline/cancellation which propagates across subsystems.
//  2. An operation-specific maximum duration (e.g. the master report lease period) used
//     for internal safety limits and lease TTLs.
//
// Scanner leases use the configured lease TTL so they are released even if the
// caller's context is canceled outright. Row locks have no TTL: a row lock is held
// until its update is committed or aborted.
