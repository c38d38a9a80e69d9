package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTMDB(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validateImages(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateTMDB() error {
	if c.TMDB.APIKey == "" && c.TMDB.ReadAccessToken == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/cinedeck/config.toml"
		}
		return fmt.Errorf("tmdb.api_key is required. Set TMDB_API_KEY env var or edit %s (create with 'cinedeck config init')", defaultPath)
	}
	if !strings.HasPrefix(c.TMDB.BaseURL, "http://") && !strings.HasPrefix(c.TMDB.BaseURL, "https://") {
		return fmt.Errorf("tmdb.base_url must be an http(s) URL, got %q", c.TMDB.BaseURL)
	}
	if !strings.HasPrefix(c.TMDB.ImageBaseURL, "http://") && !strings.HasPrefix(c.TMDB.ImageBaseURL, "https://") {
		return fmt.Errorf("tmdb.image_base_url must be an http(s) URL, got %q", c.TMDB.ImageBaseURL)
	}
	if c.TMDB.MaxAttempts > 10 {
		return errors.New("tmdb.max_attempts must be at most 10")
	}
	return nil
}

func (c *Config) validateCache() error {
	if err := ensurePositiveMap(map[string]int{
		"cache.max_entries":          c.Cache.MaxEntries,
		"cache.discover_ttl_minutes": c.Cache.DiscoverTTLMinutes,
		"cache.details_ttl_hours":    c.Cache.DetailsTTLHours,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCatalog() error {
	if err := ensurePositiveMap(map[string]int{
		"catalog.max_movies":        c.Catalog.MaxMovies,
		"catalog.max_pool_per_user": c.Catalog.MaxPoolPerUser,
	}); err != nil {
		return err
	}
	if c.Catalog.PoolLowWater > c.Catalog.MaxPoolPerUser {
		return errors.New("catalog.pool_low_water must not exceed catalog.max_pool_per_user")
	}
	return nil
}

func (c *Config) validateImages() error {
	if c.Images.MaxBytes <= 0 {
		return errors.New("images.max_bytes must be positive")
	}
	switch c.Images.PosterMode {
	case PosterModeDirect, PosterModeLocalProxy:
	default:
		return fmt.Errorf("images.poster_mode must be %q or %q, got %q", PosterModeDirect, PosterModeLocalProxy, c.Images.PosterMode)
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	if c.Discovery.MinRating < 0 || c.Discovery.MinRating > 10 {
		return errors.New("discovery.min_rating must be between 0 and 10")
	}
	if c.Discovery.MinVotes < 0 {
		return errors.New("discovery.min_votes must not be negative")
	}
	if c.Discovery.MinYear > 0 && c.Discovery.MaxYear > 0 && c.Discovery.MinYear > c.Discovery.MaxYear {
		return errors.New("discovery.min_year must not be after discovery.max_year")
	}
	return nil
}

func (c *Config) validateJobs() error {
	return ensurePositiveMap(map[string]int{
		"jobs.details_interval_seconds":     c.Jobs.DetailsIntervalSeconds,
		"jobs.image_prune_interval_seconds": c.Jobs.ImagePruneIntervalSeconds,
		"jobs.maintenance_interval_seconds": c.Jobs.MaintenanceIntervalSeconds,
		"jobs.prewarm_interval_seconds":     c.Jobs.PrewarmIntervalSeconds,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
