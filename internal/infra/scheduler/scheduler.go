// Package scheduler runs fixed-interval background loops. Each loop is
// guarded against re-entrancy: a tick is skipped outright while the
// previous one is still running, rather than queued behind it.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc performs one unit of periodic work. Errors are logged and do
// not stop the loop.
type TickFunc func(ctx context.Context) error

type Loop struct {
	name     string
	interval time.Duration
	tick     TickFunc
	log      zerolog.Logger
	observe  func(seconds float64)

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	mu      sync.Mutex
}

type LoopOption func(*Loop)

// WithObserver records tick durations, typically into a histogram.
func WithObserver(observe func(seconds float64)) LoopOption {
	return func(l *Loop) { l.observe = observe }
}

func NewLoop(name string, interval time.Duration, tick TickFunc, log zerolog.Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		name:     name,
		interval: interval,
		tick:     tick,
		log:      log.With().Str("component", "scheduler").Str("loop", name).Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the loop. The first tick fires after one interval.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.started = true
	go l.run(runCtx)
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.fire(ctx)
		}
	}
}

func (l *Loop) fire(ctx context.Context) {
	if !l.running.CompareAndSwap(false, true) {
		l.log.Debug().Msg("previous tick still running, skipping")
		return
	}
	defer l.running.Store(false)

	start := time.Now()
	if err := l.tick(ctx); err != nil {
		l.log.Error().Err(err).Msg("tick failed")
	}
	if l.observe != nil {
		l.observe(time.Since(start).Seconds())
	}
}

// Stop cancels the loop and waits up to timeout for the in-flight tick.
// Ticks do not support mid-flight cancellation beyond context propagation.
func (l *Loop) Stop(timeout time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return true
	}
	l.cancel()
	l.started = false
	select {
	case <-l.done:
		return true
	case <-time.After(timeout):
		l.log.Warn().Msg("loop did not stop within timeout")
		return false
	}
}
