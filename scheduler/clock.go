package scheduler

import (
	"context"
	"math/rand/v2"
	"time"
)

// Clock suspends the harvest worker between batches and localities
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// Sleep waits for d or until ctx is done
func (realClock) Sleep(ctx context.Context, d time.Duration) error {
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

// jitter returns a random duration in [lo, hi]
func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// withHalt returns a context cancelled when halted is closed
func withHalt(ctx context.Context, halted <-chan struct{}) (context.Context, context.CancelFunc) {
	hctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-halted:
			cancel()
		case <-hctx.Done():
		}
	}()
	return hctx, cancel
}
