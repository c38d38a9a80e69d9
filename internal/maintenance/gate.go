// Package maintenance provides the throttle that decides when a store runs
// its opportunistic cleanup pass.
package maintenance

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the minimum gap between passes when none is configured.
const DefaultInterval = 10 * time.Minute

// Gate runs a maintenance function at most once per interval. Each store owns
// its own Gate, so two stores (or two tests) never share a timestamp.
type Gate struct {
	mu       sync.Mutex
	stampMu  sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewGate returns a gate with the given interval. A non-positive interval
// falls back to DefaultInterval.
func NewGate(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Gate{interval: interval, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (g *Gate) SetClock(now func() time.Time) {
	g.stampMu.Lock()
	g.now = now
	g.stampMu.Unlock()
}

func (g *Gate) due() bool {
	g.stampMu.Lock()
	defer g.stampMu.Unlock()
	return g.last.IsZero() || g.now().Sub(g.last) >= g.interval
}

func (g *Gate) stamp() {
	g.stampMu.Lock()
	g.last = g.now()
	g.stampMu.Unlock()
}

// LastRun returns when the most recent pass finished, or zero.
func (g *Gate) LastRun() time.Time {
	g.stampMu.Lock()
	defer g.stampMu.Unlock()
	return g.last
}

// MaybeRun runs fn when the interval has elapsed and no other pass is in
// flight. It reports whether fn ran. Callers that lose the race return
// immediately instead of waiting.
func (g *Gate) MaybeRun(ctx context.Context, fn func(context.Context) error) (bool, error) {
	if g == nil || !g.due() {
		return false, nil
	}
	if !g.mu.TryLock() {
		return false, nil
	}
	defer g.mu.Unlock()
	// Another caller may have finished a pass between the check and the lock.
	if !g.due() {
		return false, nil
	}
	err := fn(ctx)
	g.stamp()
	return true, err
}

// Force runs fn regardless of the interval, waiting for any pass in flight.
func (g *Gate) Force(ctx context.Context, fn func(context.Context) error) error {
	if g == nil {
		return fn(ctx)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	err := fn(ctx)
	g.stamp()
	return err
}
