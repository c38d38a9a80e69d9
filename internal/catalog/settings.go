package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cinedeck/internal/config"
)

// PosterMode selects how poster URLs are built for clients.
type PosterMode string

const (
	// PosterDirect points clients at the upstream image host.
	PosterDirect PosterMode = config.PosterModeDirect
	// PosterLocalProxy points clients at the local image cache endpoint.
	PosterLocalProxy PosterMode = config.PosterModeLocalProxy
)

// ParsePosterMode accepts the persisted names and a few aliases.
func ParsePosterMode(value string) (PosterMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "direct":
		return PosterDirect, nil
	case "local_proxy", "localproxy", "local-proxy", "proxy", "local":
		return PosterLocalProxy, nil
	default:
		return "", fmt.Errorf("unknown poster mode %q", value)
	}
}

// Settings are the runtime-mutable size knobs.
type Settings struct {
	MaxMovies          int
	MaxPoolPerUser     int
	ImageCacheMaxBytes int64
	PosterMode         PosterMode
}

const (
	keyMaxMovies      = "max_movies"
	keyMaxPoolPerUser = "max_pool_per_user"
	keyImageMaxBytes  = "image_cache_max_bytes"
	keyPosterMode     = "poster_mode"
)

// SettingsFromConfig returns the values seeded on first open.
func SettingsFromConfig(cfg *config.Config) Settings {
	mode, err := ParsePosterMode(cfg.Images.PosterMode)
	if err != nil {
		mode = PosterDirect
	}
	return Settings{
		MaxMovies:          cfg.Catalog.MaxMovies,
		MaxPoolPerUser:     cfg.Catalog.MaxPoolPerUser,
		ImageCacheMaxBytes: cfg.Images.MaxBytes,
		PosterMode:         mode,
	}
}

// Validate checks that every bound is positive and the mode is known.
func (s Settings) Validate() error {
	if s.MaxMovies <= 0 {
		return errors.New("max_movies must be positive")
	}
	if s.MaxPoolPerUser <= 0 {
		return errors.New("max_pool_per_user must be positive")
	}
	if s.ImageCacheMaxBytes <= 0 {
		return errors.New("image_cache_max_bytes must be positive")
	}
	if _, err := ParsePosterMode(string(s.PosterMode)); err != nil {
		return err
	}
	return nil
}

func (s Settings) pairs() [][2]string {
	return [][2]string{
		{keyMaxMovies, strconv.Itoa(s.MaxMovies)},
		{keyMaxPoolPerUser, strconv.Itoa(s.MaxPoolPerUser)},
		{keyImageMaxBytes, strconv.FormatInt(s.ImageCacheMaxBytes, 10)},
		{keyPosterMode, string(s.PosterMode)},
	}
}

// apply overlays one persisted key. Unknown keys and unparsable values are
// ignored so a bad row falls back to the default.
func (s *Settings) apply(key, value string) {
	switch key {
	case keyMaxMovies:
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.MaxMovies = n
		}
	case keyMaxPoolPerUser:
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.MaxPoolPerUser = n
		}
	case keyImageMaxBytes:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
			s.ImageCacheMaxBytes = n
		}
	case keyPosterMode:
		if mode, err := ParsePosterMode(value); err == nil {
			s.PosterMode = mode
		}
	}
}

func (c *Catalog) seedSettings(ctx context.Context) error {
	return c.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, kv := range c.defaults.pairs() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
				kv[0], kv[1],
			); err != nil {
				return fmt.Errorf("seed setting %s: %w", kv[0], err)
			}
		}
		return nil
	})
}

// GetSettings returns the persisted settings, falling back to the seeded
// defaults for any missing key.
func (c *Catalog) GetSettings(ctx context.Context) (Settings, error) {
	settings := c.defaults
	rows, err := c.db.SQL().QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return settings, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return settings, fmt.Errorf("scan setting: %w", err)
		}
		settings.apply(key, value)
	}
	if err := rows.Err(); err != nil {
		return settings, fmt.Errorf("iterate settings: %w", err)
	}
	return settings, nil
}

// SetSettings persists settings and immediately runs a maintenance pass so
// the new bounds take effect.
func (c *Catalog) SetSettings(ctx context.Context, settings Settings) error {
	mode, err := ParsePosterMode(string(settings.PosterMode))
	if err != nil {
		return err
	}
	settings.PosterMode = mode
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, kv := range settings.pairs() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
				kv[0], kv[1],
			); err != nil {
				return fmt.Errorf("write setting %s: %w", kv[0], err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, err = c.Maintain(ctx)
	return err
}
