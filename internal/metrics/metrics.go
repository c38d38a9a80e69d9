// Package metrics defines the Prometheus counters shared by the caches and
// the call pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cinedeck"

// Cache tiers reported on the cache lookup counter.
const (
	TierMemory     = "memory"
	TierPersistent = "persistent"
)

// Metrics bundles every counter the process exports.
type Metrics struct {
	cacheLookups   *prometheus.CounterVec
	cacheWrites    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	limiterWaits   prometheus.Counter
	limiterPermits prometheus.Counter
	upstreamCalls  *prometheus.CounterVec
	retries        prometheus.Counter
	imageFetches   *prometheus.CounterVec
	imageEvictions prometheus.Counter
	poolFills      prometheus.Counter
}

// New registers the counters with reg. Pass prometheus.NewRegistry() in tests
// to keep registrations isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_lookups_total",
			Help:      "Response cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		cacheWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_writes_total",
			Help:      "Response cache writes by result.",
		}, []string{"result"}),
		cacheEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_rows_deleted_total",
			Help:      "Rows removed by maintenance passes, by table.",
		}, []string{"table"}),
		limiterWaits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limiter_waits_total",
			Help:      "Permit acquisitions that had to queue.",
		}),
		limiterPermits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limiter_permits_total",
			Help:      "Permits granted by the rate limiter.",
		}),
		upstreamCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream HTTP exchanges by status class.",
		}, []string{"class"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Upstream attempts repeated after a transient failure.",
		}),
		imageFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_cache_requests_total",
			Help:      "Image cache lookups by result.",
		}, []string{"result"}),
		imageEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_cache_evictions_total",
			Help:      "Images removed by byte-budget pruning.",
		}),
		poolFills: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_fills_total",
			Help:      "Discovery batches written into user pools.",
		}),
	}
}

func (m *Metrics) CacheHit(tier string) {
	if m != nil {
		m.cacheLookups.WithLabelValues(tier, "hit").Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheLookups.WithLabelValues(TierPersistent, "miss").Inc()
	}
}

func (m *Metrics) CacheWrite(ok bool) {
	if m != nil {
		m.cacheWrites.WithLabelValues(result(ok)).Inc()
	}
}

func (m *Metrics) RowsDeleted(table string, n int64) {
	if m != nil && n > 0 {
		m.cacheEvictions.WithLabelValues(table).Add(float64(n))
	}
}

func (m *Metrics) LimiterPermit(waited bool) {
	if m == nil {
		return
	}
	m.limiterPermits.Inc()
	if waited {
		m.limiterWaits.Inc()
	}
}

// UpstreamResponse records one HTTP exchange. status 0 means a transport error.
func (m *Metrics) UpstreamResponse(status int) {
	if m == nil {
		return
	}
	class := "error"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	case status >= 200:
		class = "2xx"
	}
	m.upstreamCalls.WithLabelValues(class).Inc()
}

func (m *Metrics) Retry() {
	if m != nil {
		m.retries.Inc()
	}
}

// ImageRequest records an image lookup. result is "hit", "fetched" or "failed".
func (m *Metrics) ImageRequest(result string) {
	if m != nil {
		m.imageFetches.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ImageEvicted() {
	if m != nil {
		m.imageEvictions.Inc()
	}
}

func (m *Metrics) PoolFilled() {
	if m != nil {
		m.poolFills.Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
