// Package tmdb is the client for The Movie Database API used to discover
// candidate movies and fetch their details.
//
// It authenticates with either a v3 API key (query parameter) or a v4 read
// access token (bearer header), builds discovery filters from user
// preferences, and walks discovery pages forward until it has enough
// candidates. Detail lookups report an explicit Outcome instead of an error
// for expected conditions such as not-found or an undecodable payload.
//
// Callers supply the decorated transport (rate limit, cache, retry) through
// WithHTTPClient or WithTransport; the client itself never retries.
package tmdb
