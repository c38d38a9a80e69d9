// Package respcache stores raw upstream payloads in two tiers: a bounded
// in-process LRU in front of a SQLite table.
//
// Get consults memory first and only falls through to SQLite on a miss. A row
// read from SQLite is copied back into memory with its original absolute
// expiry, so the memory copy never outlives the persisted one. Set writes
// memory first and then upserts the row; a ttl of zero or less caches
// nothing.
//
// Caching is an optimization. Persistent-tier failures surface as misses on
// read and as logged warnings on write, never as errors to the caller.
package respcache
