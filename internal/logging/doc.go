// Package logging assembles structured slog loggers and formatting helpers used
// across cinedeck.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so cache and pipeline code can tag
// log lines with request and user identifiers. RedactURL strips credential
// query parameters before any request URI reaches a log line.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
