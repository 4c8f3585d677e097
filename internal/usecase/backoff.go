package usecase

import (
	"context"
	"time"
)

// backoff is an explicit retry state machine: attempt count in, delay or
// terminal exhaustion out. It carries no timer of its own so it behaves
// identically under goroutines, tests, and fake clocks.
type backoff struct {
	max     int
	base    time.Duration
	attempt int
}

func newBackoff(max int, base time.Duration) *backoff {
	if max <= 0 {
		max = 3
	}
	if base <= 0 {
		base = time.Second
	}
	return &backoff{max: max, base: base}
}

// next reports whether another attempt is allowed and the delay to wait
// before it. The first attempt has no delay.
func (b *backoff) next() (time.Duration, bool) {
	if b.attempt >= b.max {
		return 0, false
	}
	delay := time.Duration(0)
	if b.attempt > 0 {
		delay = b.base << (b.attempt - 1)
	}
	b.attempt++
	return delay, true
}

func (b *backoff) attempts() int {
	return b.attempt
}

// sleep waits for d unless the context ends first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
