package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cinedeck/internal/logging"
	"cinedeck/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	maxDrainBytes      = 64 << 10
)

// RetryPolicy configures the retry stage.
type RetryPolicy struct {
	// MaxAttempts counts the first try. Values below one mean defaultMaxAttempts.
	MaxAttempts int
	// Delay returns the wait before the given retry (1 for the first retry).
	// Nil means no delay.
	Delay   func(retry int) time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// ExponentialBackoff doubles base for every retry, capped at max.
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	return func(retry int) time.Duration {
		if base <= 0 || retry <= 0 {
			return 0
		}
		delay := base
		for i := 1; i < retry; i++ {
			delay *= 2
			if max > 0 && delay >= max {
				return max
			}
		}
		if max > 0 && delay > max {
			return max
		}
		return delay
	}
}

// IsTransientStatus reports whether status is worth retrying: any 5xx and
// 429 Too Many Requests.
func IsTransientStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// Retry repeats requests that fail transiently. Permanent failures and the
// final attempt are returned to the caller as-is.
func Retry(policy RetryPolicy) Middleware {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = defaultMaxAttempts
	}
	logger := logging.NewComponentLogger(policy.Logger, "pipeline")
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			ctx := req.Context()
			var (
				resp *http.Response
				err  error
			)
			for attempt := 1; ; attempt++ {
				attemptReq := req
				if attempt > 1 && req.Body != nil && req.Body != http.NoBody {
					body, bodyErr := req.GetBody()
					if bodyErr != nil {
						return nil, bodyErr
					}
					attemptReq = req.Clone(ctx)
					attemptReq.Body = body
				}
				resp, err = next.RoundTrip(attemptReq)
				if attempt >= attempts || !shouldRetry(ctx, resp, err) || !replayable(req) {
					return resp, err
				}

				status := 0
				if resp != nil {
					status = resp.StatusCode
				}
				delay := time.Duration(0)
				if policy.Delay != nil {
					delay = policy.Delay(attempt)
				}
				logger.Debug("retrying upstream request",
					logging.URL(req.URL),
					logging.Int("attempt", attempt),
					logging.Int("status", status),
					logging.Duration("backoff", delay),
				)
				policy.Metrics.Retry()

				if resp != nil {
					drain(resp.Body)
				}
				if sleepErr := sleepWithContext(ctx, delay); sleepErr != nil {
					return nil, sleepErr
				}
			}
		})
	}
}

func shouldRetry(ctx context.Context, resp *http.Response, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return resp != nil && IsTransientStatus(resp.StatusCode)
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drain(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, body, maxDrainBytes)
	_ = body.Close()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
