// Package ratelimit bounds the outbound request rate to the metadata provider.
//
// TokenBucket hands out at most capacity permits per refill interval. Callers
// that find the bucket empty queue in arrival order; the queue is bounded at
// ten times the rate, and callers arriving at a full queue wait for the next
// refill before trying again. A canceled wait gives its slot (or its already
// granted permit) back.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cinedeck/internal/metrics"
)

const (
	// MinRate and MaxRate bound the configured permits per interval.
	MinRate = 1
	MaxRate = 50

	queueFactor     = 10
	defaultInterval = time.Second
)

// TokenBucket is a FIFO token-bucket limiter. The zero value is not usable;
// construct with New.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	interval   time.Duration
	lastRefill time.Time
	queue      *list.List
	maxQueue   int
	timer      *time.Timer

	acquired atomic.Int64
	metrics  *metrics.Metrics
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

// Option customizes a TokenBucket.
type Option func(*TokenBucket)

// WithInterval overrides the one second refill interval.
func WithInterval(d time.Duration) Option {
	return func(b *TokenBucket) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithMetrics records permit grants.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *TokenBucket) {
		b.metrics = m
	}
}

// New returns a full bucket allowing rate permits per interval. rate is
// clamped to [MinRate, MaxRate].
func New(rate int, opts ...Option) *TokenBucket {
	rate = ClampRate(rate)
	b := &TokenBucket{
		capacity: rate,
		tokens:   rate,
		interval: defaultInterval,
		queue:    list.New(),
		maxQueue: rate * queueFactor,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastRefill = time.Now()
	return b
}

// ClampRate bounds a requested rate to what the limiter supports.
func ClampRate(rate int) int {
	if rate < MinRate {
		return MinRate
	}
	if rate > MaxRate {
		return MaxRate
	}
	return rate
}

// Capacity returns the number of permits per interval.
func (b *TokenBucket) Capacity() int { return b.capacity }

// QueueCapacity returns the maximum number of queued callers.
func (b *TokenBucket) QueueCapacity() int { return b.maxQueue }

// Acquired returns the total number of permits granted.
func (b *TokenBucket) Acquired() int64 { return b.acquired.Load() }

// QueueLen returns the number of callers currently waiting.
func (b *TokenBucket) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}

// Acquire blocks until a permit is available or ctx is done.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	waited := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b.mu.Lock()
		b.refillLocked(time.Now())
		if b.queue.Len() == 0 && b.tokens > 0 {
			b.tokens--
			b.mu.Unlock()
			b.granted(waited)
			return nil
		}

		if b.queue.Len() >= b.maxQueue {
			wait := time.Until(b.lastRefill.Add(b.interval))
			b.mu.Unlock()
			waited = true
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		w := &waiter{ready: make(chan struct{})}
		elem := b.queue.PushBack(w)
		b.armLocked()
		b.mu.Unlock()

		select {
		case <-w.ready:
			b.granted(true)
			return nil
		case <-ctx.Done():
			b.mu.Lock()
			if w.granted {
				// Lost the race with dispatch: hand the permit to the next waiter.
				if b.tokens < b.capacity {
					b.tokens++
				}
				b.dispatchLocked()
			} else {
				b.queue.Remove(elem)
			}
			b.mu.Unlock()
			return ctx.Err()
		}
	}
}

func (b *TokenBucket) granted(waited bool) {
	b.acquired.Add(1)
	b.metrics.LimiterPermit(waited)
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed < b.interval {
		return
	}
	periods := elapsed / b.interval
	b.lastRefill = b.lastRefill.Add(periods * b.interval)
	b.tokens = b.capacity
}

// dispatchLocked hands available tokens to queued callers, oldest first.
func (b *TokenBucket) dispatchLocked() {
	for b.tokens > 0 {
		front := b.queue.Front()
		if front == nil {
			return
		}
		w := b.queue.Remove(front).(*waiter)
		w.granted = true
		b.tokens--
		close(w.ready)
	}
}

func (b *TokenBucket) armLocked() {
	if b.timer != nil || b.queue.Len() == 0 {
		return
	}
	wait := time.Until(b.lastRefill.Add(b.interval))
	if wait < 0 {
		wait = 0
	}
	b.timer = time.AfterFunc(wait, b.onRefill)
}

func (b *TokenBucket) onRefill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timer = nil
	b.refillLocked(time.Now())
	b.dispatchLocked()
	b.armLocked()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
