// Package config loads, normalizes, and validates cinedeck configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TMDB_API_KEY. The Config type centralizes every knob the caches, the call
// pipeline, and the periodic jobs need, so storage directories, upstream
// credentials, and cache budgets are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, clamped rates, and clear validation errors.
package config
