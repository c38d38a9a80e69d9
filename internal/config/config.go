package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	ImageDir string `toml:"image_dir"`
}

// TMDB contains configuration for The Movie Database API and the call
// pipeline that fronts it.
type TMDB struct {
	APIKey            string `toml:"api_key"`
	ReadAccessToken   string `toml:"read_access_token"`
	BaseURL           string `toml:"base_url"`
	ImageBaseURL      string `toml:"image_base_url"`
	Language          string `toml:"language"`
	Region            string `toml:"region"`
	RequestsPerSecond int    `toml:"requests_per_second"`
	MaxAttempts       int    `toml:"max_attempts"`
	RetryBaseDelayMS  int    `toml:"retry_base_delay_ms"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
}

// Cache contains configuration for the two-tier response cache.
type Cache struct {
	MemoryEntries              int `toml:"memory_entries"`
	MaxEntries                 int `toml:"max_entries"`
	DiscoverTTLMinutes         int `toml:"discover_ttl_minutes"`
	DetailsTTLHours            int `toml:"details_ttl_hours"`
	MaintenanceIntervalMinutes int `toml:"maintenance_interval_minutes"`
}

// Catalog contains the initial bounds for the movie catalog and per-user pools.
// Values are seeded into the persisted settings row on first open.
type Catalog struct {
	MaxMovies      int `toml:"max_movies"`
	MaxPoolPerUser int `toml:"max_pool_per_user"`
	PoolLowWater   int `toml:"pool_low_water"`
	FillSize       int `toml:"fill_size"`
}

// Images contains configuration for the poster/backdrop cache.
type Images struct {
	MaxBytes               int64  `toml:"max_bytes"`
	PosterMode             string `toml:"poster_mode"`
	PrefetchSize           string `toml:"prefetch_size"`
	PrefetchConcurrency    int    `toml:"prefetch_concurrency"`
	DownloadTimeoutSeconds int    `toml:"download_timeout_seconds"`
}

// Discovery holds the default preference filters used when no per-user
// preferences provider is wired.
type Discovery struct {
	Genres        []int   `toml:"genres"`
	ExcludeGenres []int   `toml:"exclude_genres"`
	MinRating     float64 `toml:"min_rating"`
	MinVotes      int     `toml:"min_votes"`
	MinYear       int     `toml:"min_year"`
	MaxYear       int     `toml:"max_year"`
	Language      string  `toml:"original_language"`
	SortBy        string  `toml:"sort_by"`
	IncludeAdult  bool    `toml:"include_adult"`
}

// Jobs contains configuration for the periodic drivers.
type Jobs struct {
	DetailsIntervalSeconds     int      `toml:"details_interval_seconds"`
	DetailsBatchSize           int      `toml:"details_batch_size"`
	ImagePruneIntervalSeconds  int      `toml:"image_prune_interval_seconds"`
	MaintenanceIntervalSeconds int      `toml:"maintenance_interval_seconds"`
	PrewarmIntervalSeconds     int      `toml:"prewarm_interval_seconds"`
	PrewarmUsers               []string `toml:"prewarm_users"`
	MetricsBind                string   `toml:"metrics_bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for cinedeck.
//
// Configuration sections by subsystem:
//   - Paths: database, log, and image directories
//   - TMDB: upstream credentials, rate limit, and retry policy
//   - Cache: response cache sizing and TTLs
//   - Catalog: catalog and per-user pool bounds
//   - Images: image cache budget and poster URL mode
//   - Discovery: default discovery filters
//   - Jobs: periodic driver intervals
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	TMDB      TMDB      `toml:"tmdb"`
	Cache     Cache     `toml:"cache"`
	Catalog   Catalog   `toml:"catalog"`
	Images    Images    `toml:"images"`
	Discovery Discovery `toml:"discovery"`
	Jobs      Jobs      `toml:"jobs"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/cinedeck/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cinedeck.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data, log, and image directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ImageDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file shared by the response cache, the
// catalog, and the image cache index.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "cinedeck.db")
}

// DiscoverTTL is the lifetime of cached discovery/listing responses.
func (c *Config) DiscoverTTL() time.Duration {
	return time.Duration(c.Cache.DiscoverTTLMinutes) * time.Minute
}

// DetailsTTL is the lifetime of cached per-item detail responses.
func (c *Config) DetailsTTL() time.Duration {
	return time.Duration(c.Cache.DetailsTTLHours) * time.Hour
}

// MaintenanceInterval is the minimum gap between opportunistic maintenance passes.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Cache.MaintenanceIntervalMinutes) * time.Minute
}

// RetryBaseDelay is the first backoff delay of the retry stage.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.TMDB.RetryBaseDelayMS) * time.Millisecond
}

// RequestTimeout bounds a single upstream HTTP exchange.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.TMDB.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
