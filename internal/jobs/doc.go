// Package jobs runs the periodic drivers that keep the caches warm and
// bounded: details backfill, image pruning, forced maintenance, and pool
// prewarming for configured users.
//
// Only one runner may hold the lock file at a time, so several processes can
// share a database while exactly one of them drives the schedule. The runner
// can also expose the Prometheus registry over HTTP.
package jobs
