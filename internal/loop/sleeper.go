package loop

import (
	"context"
	"time"
)

// Sleeper waits between cycles. Sleep returns early with nil when wake
// fires, and with ctx.Err() when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) error
}

// TimerSleeper sleeps on a real timer.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	case <-t.C:
		return nil
	}
}

// BackoffFor returns the delay after n consecutive failures:
// min(floor * 2^(n-1), ceiling). n < 1 yields floor.
func BackoffFor(n int, floor, ceiling time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	d := floor
	for i := 1; i < n; i++ {
		d *= 2
		if d >= ceiling || d <= 0 {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
