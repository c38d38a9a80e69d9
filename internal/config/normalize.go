package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTMDB()
	c.normalizeCache()
	c.normalizeCatalog()
	c.normalizeImages()
	c.normalizeDiscovery()
	c.normalizeJobs()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ImageDir) == "" {
		c.Paths.ImageDir = defaultImageDir
	}
	if c.Paths.ImageDir, err = expandPath(c.Paths.ImageDir); err != nil {
		return fmt.Errorf("paths.image_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTMDB() {
	c.TMDB.APIKey = strings.TrimSpace(c.TMDB.APIKey)
	if c.TMDB.APIKey == "" {
		if value, ok := os.LookupEnv("TMDB_API_KEY"); ok {
			c.TMDB.APIKey = strings.TrimSpace(value)
		}
	}
	c.TMDB.ReadAccessToken = strings.TrimSpace(c.TMDB.ReadAccessToken)
	if c.TMDB.ReadAccessToken == "" {
		if value, ok := os.LookupEnv("TMDB_READ_ACCESS_TOKEN"); ok {
			c.TMDB.ReadAccessToken = strings.TrimSpace(value)
		}
	}
	c.TMDB.BaseURL = strings.TrimRight(strings.TrimSpace(c.TMDB.BaseURL), "/")
	if c.TMDB.BaseURL == "" {
		c.TMDB.BaseURL = defaultTMDBBaseURL
	}
	c.TMDB.ImageBaseURL = strings.TrimRight(strings.TrimSpace(c.TMDB.ImageBaseURL), "/")
	if c.TMDB.ImageBaseURL == "" {
		c.TMDB.ImageBaseURL = defaultTMDBImageBaseURL
	}
	c.TMDB.Language = CanonicalLanguage(c.TMDB.Language, defaultTMDBLanguage)
	c.TMDB.Region = strings.ToUpper(strings.TrimSpace(c.TMDB.Region))

	if c.TMDB.RequestsPerSecond < minRequestsPerSecond {
		c.TMDB.RequestsPerSecond = minRequestsPerSecond
	}
	if c.TMDB.RequestsPerSecond > maxRequestsPerSecond {
		c.TMDB.RequestsPerSecond = maxRequestsPerSecond
	}
	if c.TMDB.MaxAttempts <= 0 {
		c.TMDB.MaxAttempts = defaultMaxAttempts
	}
	if c.TMDB.RetryBaseDelayMS < 0 {
		c.TMDB.RetryBaseDelayMS = 0
	}
	if c.TMDB.TimeoutSeconds <= 0 {
		c.TMDB.TimeoutSeconds = defaultTimeoutSeconds
	}
}

func (c *Config) normalizeCache() {
	if c.Cache.MemoryEntries <= 0 {
		c.Cache.MemoryEntries = defaultMemoryEntries
	}
	if c.Cache.MaintenanceIntervalMinutes <= 0 {
		c.Cache.MaintenanceIntervalMinutes = defaultMaintenanceIntervalMinutes
	}
}

func (c *Config) normalizeCatalog() {
	if c.Catalog.FillSize <= 0 {
		c.Catalog.FillSize = defaultFillSize
	}
	if c.Catalog.PoolLowWater < 0 {
		c.Catalog.PoolLowWater = 0
	}
}

func (c *Config) normalizeImages() {
	mode := strings.ToLower(strings.TrimSpace(c.Images.PosterMode))
	mode = strings.ReplaceAll(mode, "-", "_")
	switch mode {
	case "", "direct":
		c.Images.PosterMode = PosterModeDirect
	case "local_proxy", "localproxy", "proxy", "local":
		c.Images.PosterMode = PosterModeLocalProxy
	default:
		c.Images.PosterMode = mode
	}
	c.Images.PrefetchSize = strings.TrimSpace(c.Images.PrefetchSize)
	if c.Images.PrefetchSize == "" {
		c.Images.PrefetchSize = defaultPrefetchSize
	}
	if c.Images.PrefetchConcurrency <= 0 {
		c.Images.PrefetchConcurrency = defaultPrefetchConcurrency
	}
	if c.Images.DownloadTimeoutSeconds <= 0 {
		c.Images.DownloadTimeoutSeconds = defaultDownloadTimeoutSeconds
	}
}

func (c *Config) normalizeDiscovery() {
	c.Discovery.SortBy = strings.TrimSpace(c.Discovery.SortBy)
	if c.Discovery.SortBy == "" {
		c.Discovery.SortBy = defaultSortBy
	}
	c.Discovery.Language = strings.ToLower(strings.TrimSpace(c.Discovery.Language))
}

func (c *Config) normalizeJobs() {
	if c.Jobs.DetailsBatchSize <= 0 {
		c.Jobs.DetailsBatchSize = defaultDetailsBatchSize
	}
	users := make([]string, 0, len(c.Jobs.PrewarmUsers))
	seen := make(map[string]struct{}, len(c.Jobs.PrewarmUsers))
	for _, user := range c.Jobs.PrewarmUsers {
		user = strings.TrimSpace(user)
		if user == "" {
			continue
		}
		if _, ok := seen[user]; ok {
			continue
		}
		seen[user] = struct{}{}
		users = append(users, user)
	}
	c.Jobs.PrewarmUsers = users
	c.Jobs.MetricsBind = strings.TrimSpace(c.Jobs.MetricsBind)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// CanonicalLanguage returns the BCP 47 form of tag ("en_us" becomes "en-US").
// Unparseable or empty tags yield fallback.
func CanonicalLanguage(tag, fallback string) string {
	tag = strings.TrimSpace(strings.ReplaceAll(tag, "_", "-"))
	if tag == "" {
		return fallback
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return fallback
	}
	return parsed.String()
}
