// Package store provides SQLite-backed durable storage for the document
// store and the moderation queue.
//
// The schema holds two groups of tables:
//   - Wiki tables: page, revision, recentchanges, cu_changes, logging,
//     change_tag. These are written by internal/wiki.
//   - Queue tables: moderation. One row per pending change awaiting a
//     moderator decision. Written by this package.
//
// # Conventions
//
// Timestamps are stored as 14-digit UTC strings (YYYYMMDDHHMMSS) with
// second precision. Use FormatTimestamp and ParseTimestamp for conversion.
//
// All list queries order by their natural key followed by the row id so
// results are stable across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The pool is capped at one connection. Code running inside an open write
// transaction must not issue queries through the pool.
package store
