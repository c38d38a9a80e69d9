// Package pipeline decorates an http.RoundTripper with the stages every call
// to the metadata provider goes through, outermost first:
//
//	rate limit -> response cache -> retry -> logged transport
//
// Each stage is a Middleware and can be tested on its own against a fake
// inner RoundTripper. A cache hit returns before the retry stage, so a
// genuine miss costs exactly one rate-limit permit no matter how many
// attempts the retry stage makes underneath.
package pipeline
