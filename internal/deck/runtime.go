package deck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cinedeck/internal/catalog"
	"cinedeck/internal/config"
	"cinedeck/internal/imagecache"
	"cinedeck/internal/metrics"
	"cinedeck/internal/pipeline"
	"cinedeck/internal/ratelimit"
	"cinedeck/internal/respcache"
	"cinedeck/internal/store"
	"cinedeck/internal/tmdb"
)

const maxRetryDelay = 5 * time.Second

// Runtime owns every component Open builds. Close releases the database.
type Runtime struct {
	DB        *store.DB
	Limiter   *ratelimit.TokenBucket
	Responses *respcache.Cache
	Client    *tmdb.Client
	Catalog   *catalog.Catalog
	Images    *imagecache.Cache
	Service   *Service
}

// Close releases the database handle.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	return r.DB.Close()
}

// Open wires the full stack from cfg: store, response cache, rate-limited
// pipeline, TMDB client, catalog, image cache, and the deck service. A nil
// m disables metrics.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("deck: config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	rt, err := build(ctx, cfg, db, logger, m)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return rt, nil
}

func build(ctx context.Context, cfg *config.Config, db *store.DB, logger *slog.Logger, m *metrics.Metrics) (*Runtime, error) {
	responses, err := respcache.New(respcache.NewSQLiteBackend(db), respcache.Options{
		MemoryEntries:       cfg.Cache.MemoryEntries,
		MaxEntries:          cfg.Cache.MaxEntries,
		MaintenanceInterval: cfg.MaintenanceInterval(),
		Logger:              logger,
		Metrics:             m,
	})
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(cfg.TMDB.RequestsPerSecond, ratelimit.WithMetrics(m))
	transport := pipeline.New(pipeline.Options{
		Limiter:     limiter,
		Cache:       responses,
		TTL:         pipeline.DefaultTTLPolicy(cfg.DiscoverTTL(), cfg.DetailsTTL()),
		MaxAttempts: cfg.TMDB.MaxAttempts,
		Backoff:     pipeline.ExponentialBackoff(cfg.RetryBaseDelay(), maxRetryDelay),
		Logger:      logger,
		Metrics:     m,
	})
	client, err := tmdb.New(cfg.TMDB.APIKey, cfg.TMDB.BaseURL, cfg.TMDB.Language,
		tmdb.WithHTTPClient(&http.Client{Transport: transport, Timeout: cfg.RequestTimeout()}),
		tmdb.WithReadAccessToken(cfg.TMDB.ReadAccessToken),
		tmdb.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("tmdb client: %w", err)
	}

	cat, err := catalog.New(ctx, db, catalog.Options{
		Defaults:            catalog.SettingsFromConfig(cfg),
		MaintenanceInterval: cfg.MaintenanceInterval(),
		Logger:              logger,
		Metrics:             m,
	})
	if err != nil {
		return nil, err
	}

	images, err := imagecache.New(db, imagecache.Options{
		Dir:        cfg.Paths.ImageDir,
		BaseURL:    cfg.TMDB.ImageBaseURL,
		HTTPClient: &http.Client{Timeout: time.Duration(cfg.Images.DownloadTimeoutSeconds) * time.Second},
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		return nil, err
	}

	service, err := New(Options{
		Upstream:            client,
		Catalog:             cat,
		Images:              images,
		Responses:           responses,
		Preferences:         PreferencesFromConfig(cfg),
		ImageBaseURL:        cfg.TMDB.ImageBaseURL,
		LowWater:            cfg.Catalog.PoolLowWater,
		FillSize:            cfg.Catalog.FillSize,
		PrefetchSize:        cfg.Images.PrefetchSize,
		PrefetchConcurrency: cfg.Images.PrefetchConcurrency,
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}

	return &Runtime{
		DB:        db,
		Limiter:   limiter,
		Responses: responses,
		Client:    client,
		Catalog:   cat,
		Images:    images,
		Service:   service,
	}, nil
}
