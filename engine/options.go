package engine

import (
	"math/rand"
	"sync"
	"time"
)

// Execution tuning defaults.
const (
	// DefaultMaxParallel bounds how many nodes of one level run at once.
	// Kept small: handlers typically call external APIs that throttle.
	DefaultMaxParallel = 5

	// DefaultCacheHitDelay is the perceptual pause on a cache hit so the
	// canvas can show the running transition before confirming.
	DefaultCacheHitDelay = 300 * time.Millisecond
)

// Option configures an Engine at construction.
//
// Example:
//
//	eng := engine.New(st, registry, emitter,
//	    engine.WithMaxParallel(3),
//	    engine.WithMetrics(metrics),
//	)
type Option func(*Engine)

// WithMaxParallel sets the per-level concurrency bound. Values below 1
// are ignored.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxParallel = n
		}
	}
}

// WithCacheHitDelay sets the perceptual delay before a cache hit
// confirms. Tests set 0 to run instantly; negative values are ignored.
func WithCacheHitDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.cacheHitDelay = d
		}
	}
}

// WithMetrics attaches a Prometheus collector. Without it the engine
// records nothing.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithBreakerThreshold sets how many retries trip a node's circuit
// breaker. Values below 1 keep the default.
func WithBreakerThreshold(n int) Option {
	return func(e *Engine) {
		e.breaker = NewBreaker(n)
	}
}

// WithFileStore attaches local file storage for execution snapshots and
// best-effort result downloads. Optional; without it those steps are
// skipped.
func WithFileStore(fs FileStore) Option {
	return func(e *Engine) {
		e.files = fs
	}
}

// WithClock replaces the wall clock used for duration fallback
// measurement. For tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRandSource replaces the randomness behind retry seed perturbation
// with a deterministic source. For tests.
func WithRandSource(r *rand.Rand) Option {
	return func(e *Engine) {
		if r == nil {
			return
		}
		var mu sync.Mutex
		e.randIntn = func(n int) int {
			mu.Lock()
			defer mu.Unlock()
			return r.Intn(n)
		}
		e.randInt31 = func() int32 {
			mu.Lock()
			defer mu.Unlock()
			return r.Int31()
		}
	}
}
