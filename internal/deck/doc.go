// Package deck is the entry point callers use to serve swipe decks.
//
// Service combines the TMDB client (behind the rate limit, cache, and retry
// pipeline), the catalog with its per-user pools, and the image cache. Deck
// reads come from the local pool; the upstream is only contacted when a pool
// runs below its low-water mark. Failures in the caching machinery degrade to
// empty or partial results instead of errors.
//
// Open assembles the whole stack from a config.Config; tests construct
// Service directly with fakes.
package deck
