// Package catalog persists discovered movies and the per-user candidate pools
// built from them.
//
// Every movie the discovery feed returns is upserted into the catalog. Summary
// writes never erase detail fields a previous backfill stored; see Merge for
// the per-field rule. Each user owns a bounded pool of ranked movie IDs that
// the deck reads without contacting the upstream API. Pool rows cascade when
// their movie is evicted.
//
// The catalog also owns the runtime Settings row and runs its own throttled
// maintenance pass that caps the movie count and trims pools to the current
// bound.
package catalog
