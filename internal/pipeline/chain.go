package pipeline

import (
	"log/slog"
	"net/http"
	"time"

	"cinedeck/internal/metrics"
)

// Middleware wraps a RoundTripper with one stage of behavior.
type Middleware func(http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper.
func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Chain composes middlewares around base. The first middleware is the
// outermost stage.
func Chain(base http.RoundTripper, mws ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			rt = mws[i](rt)
		}
	}
	return rt
}

// Options configures the standard stage order built by New.
type Options struct {
	Limiter     Limiter
	Cache       ResponseCache
	TTL         TTLPolicy
	Validate    Validator
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Base        http.RoundTripper
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// New builds the standard rate limit -> cache -> retry -> logged transport
// chain. Stages whose dependencies are nil are left out.
func New(opts Options) http.RoundTripper {
	var mws []Middleware
	if opts.Limiter != nil {
		mws = append(mws, RateLimit(opts.Limiter))
	}
	if opts.Cache != nil && opts.TTL != nil {
		mws = append(mws, Cache(opts.Cache, opts.TTL, opts.Validate, opts.Logger))
	}
	mws = append(mws,
		Retry(RetryPolicy{MaxAttempts: opts.MaxAttempts, Delay: opts.Backoff, Logger: opts.Logger, Metrics: opts.Metrics}),
		Logged(opts.Logger, opts.Metrics),
	)
	return Chain(opts.Base, mws...)
}
