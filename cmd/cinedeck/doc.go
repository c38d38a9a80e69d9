// Package main hosts the cinedeck CLI entrypoint and command graph.
//
// The Cobra command tree exposes every cache operation from the terminal:
// discovery and detail lookups through the rate-limited pipeline, deck and
// pool management, image cache fetch/prune/stats, runtime settings, and the
// periodic job runner. It centralizes configuration loading and runtime
// wiring so subcommands only format results.
//
// Add behavior to the internal packages first and surface it here with a
// thin command.
package main
