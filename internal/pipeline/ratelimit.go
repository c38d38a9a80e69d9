package pipeline

import (
	"context"
	"fmt"
	"net/http"
)

// Limiter hands out permits for outbound calls.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// RateLimit takes one permit per request before passing it on.
func RateLimit(l Limiter) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if err := l.Acquire(req.Context()); err != nil {
				return nil, fmt.Errorf("rate limit: %w", err)
			}
			return next.RoundTrip(req)
		})
	}
}
