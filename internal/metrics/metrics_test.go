package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"cinedeck/internal/metrics"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.CacheHit(metrics.TierMemory)
	m.CacheMiss()
	m.CacheWrite(true)
	m.RowsDeleted("movies", 3)
	m.LimiterPermit(true)
	m.UpstreamResponse(500)
	m.Retry()
	m.ImageRequest("hit")
	m.ImageEvicted()
	m.PoolFilled()
}

func TestCountersRegisterAndIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.LimiterPermit(false)
	m.LimiterPermit(true)
	m.UpstreamResponse(503)
	m.UpstreamResponse(0)
	m.CacheHit(metrics.TierMemory)

	count, err := testutil.GatherAndCount(reg,
		"cinedeck_rate_limiter_permits_total",
		"cinedeck_rate_limiter_waits_total",
		"cinedeck_upstream_requests_total",
		"cinedeck_response_cache_lookups_total",
	)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	// permits + waits + two upstream classes + one lookup series
	if count != 5 {
		t.Fatalf("expected 5 series, got %d", count)
	}
}

func TestSecondRegistrationOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	metrics.New(reg)
}
