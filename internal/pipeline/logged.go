package pipeline

import (
	"log/slog"
	"net/http"
	"time"

	"cinedeck/internal/logging"
	"cinedeck/internal/metrics"
)

// Logged records each exchange with credentials redacted from the URL.
func Logged(logger *slog.Logger, m *metrics.Metrics) Middleware {
	logger = logging.NewComponentLogger(logger, "pipeline")
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(req)
			latency := time.Since(start)
			log := logging.WithContext(req.Context(), logger)
			if err != nil {
				m.UpstreamResponse(0)
				log.Debug("upstream request failed",
					logging.String("method", req.Method),
					logging.URL(req.URL),
					logging.Duration("latency", latency),
					logging.Error(err),
				)
				return nil, err
			}
			m.UpstreamResponse(resp.StatusCode)
			log.Debug("upstream request",
				logging.String("method", req.Method),
				logging.URL(req.URL),
				logging.Int("status", resp.StatusCode),
				logging.Duration("latency", latency),
			)
			return resp, nil
		})
	}
}
