package respcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"cinedeck/internal/logging"
	"cinedeck/internal/maintenance"
	"cinedeck/internal/metrics"
)

const defaultMemoryEntries = 2048

type memEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Options configures a Cache.
type Options struct {
	// MemoryEntries bounds the in-process tier.
	MemoryEntries int
	// MaxEntries caps persisted rows during maintenance. Zero disables the cap.
	MaxEntries int
	// MaintenanceInterval throttles opportunistic maintenance.
	MaintenanceInterval time.Duration
	Logger              *slog.Logger
	Metrics             *metrics.Metrics
	// Clock overrides time.Now.
	Clock func() time.Time
}

// Cache is the two-tier response cache.
type Cache struct {
	mem        *lru.Cache[string, memEntry]
	backend    Backend
	gate       *maintenance.Gate
	maxEntries int
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New builds a cache over backend.
func New(backend Backend, opts Options) (*Cache, error) {
	if backend == nil {
		return nil, fmt.Errorf("respcache: backend is required")
	}
	size := opts.MemoryEntries
	if size <= 0 {
		size = defaultMemoryEntries
	}
	mem, err := lru.New[string, memEntry](size)
	if err != nil {
		return nil, fmt.Errorf("respcache: memory tier: %w", err)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	gate := maintenance.NewGate(opts.MaintenanceInterval)
	gate.SetClock(now)
	return &Cache{
		mem:        mem,
		backend:    backend,
		gate:       gate,
		maxEntries: opts.MaxEntries,
		now:        now,
		logger:     logging.NewComponentLogger(opts.Logger, "respcache"),
		metrics:    opts.Metrics,
	}, nil
}

func memKey(key, payloadType string) string {
	return payloadType + "\x00" + key
}

// Get returns the payload cached under (key, payloadType). The returned slice
// must not be modified.
func (c *Cache) Get(ctx context.Context, key, payloadType string) ([]byte, bool) {
	now := c.now()
	mk := memKey(key, payloadType)
	if entry, ok := c.mem.Get(mk); ok {
		if now.Before(entry.expiresAt) {
			c.metrics.CacheHit(metrics.TierMemory)
			return entry.payload, true
		}
		c.mem.Remove(mk)
	}

	c.maybeMaintain(ctx)

	entry, found, err := c.backend.Load(ctx, key, payloadType)
	if err != nil {
		c.logger.Debug("cache read degraded to miss",
			logging.String("payload_type", payloadType),
			logging.Error(err),
		)
		c.metrics.CacheMiss()
		return nil, false
	}
	if !found {
		c.metrics.CacheMiss()
		return nil, false
	}
	if !now.Before(entry.ExpiresAt) {
		if err := c.backend.Delete(ctx, key, payloadType); err != nil {
			c.logger.Debug("expired cache row delete failed", logging.Error(err))
		}
		c.metrics.CacheMiss()
		return nil, false
	}

	c.mem.Add(mk, memEntry{payload: entry.Payload, expiresAt: entry.ExpiresAt})
	c.metrics.CacheHit(metrics.TierPersistent)
	return entry.Payload, true
}

// Set caches payload for ttl in both tiers. A non-positive ttl is a no-op.
func (c *Cache) Set(ctx context.Context, key, payloadType string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := c.now()
	stored := append([]byte(nil), payload...)
	expiresAt := now.Add(ttl)
	c.mem.Add(memKey(key, payloadType), memEntry{payload: stored, expiresAt: expiresAt})

	err := c.backend.Save(ctx, key, payloadType, Entry{Payload: stored, CreatedAt: now, ExpiresAt: expiresAt})
	c.metrics.CacheWrite(err == nil)
	if err != nil {
		logging.WarnWithContext(c.logger, "cache write failed", "cache_write_failed",
			logging.String("payload_type", payloadType),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database permissions and disk space"),
			logging.String(logging.FieldImpact, "response kept in memory only"),
		)
	}

	c.maybeMaintain(ctx)
}

// Maintain runs a maintenance pass now, regardless of the throttle.
func (c *Cache) Maintain(ctx context.Context) (MaintenanceResult, error) {
	var result MaintenanceResult
	err := c.gate.Force(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.runMaintenance(ctx)
		return err
	})
	return result, err
}

// Stats reports persistent-tier row counts and the memory tier size.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	stats, err := c.backend.Stats(ctx, c.now())
	stats.MemoryLen = c.mem.Len()
	return stats, err
}

// PurgeMemory empties the in-process tier.
func (c *Cache) PurgeMemory() {
	c.mem.Purge()
}

func (c *Cache) maybeMaintain(ctx context.Context) {
	ran, err := c.gate.MaybeRun(ctx, func(ctx context.Context) error {
		_, err := c.runMaintenance(ctx)
		return err
	})
	if ran && err != nil {
		logging.WarnWithContext(c.logger, "cache maintenance failed", "cache_maintenance_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "expired rows remain until the next pass"),
		)
	}
}

func (c *Cache) runMaintenance(ctx context.Context) (MaintenanceResult, error) {
	result, err := c.backend.Maintain(ctx, c.now(), c.maxEntries)
	c.metrics.RowsDeleted("response_cache", result.Expired+result.Capped)
	if err != nil {
		return result, err
	}
	if result.Expired > 0 || result.Capped > 0 {
		c.logger.Info("cache maintenance",
			logging.Int64("expired_removed", result.Expired),
			logging.Int64("capped_removed", result.Capped),
		)
	}
	return result, nil
}
