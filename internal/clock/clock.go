// Package clock provides wall-clock access and cancellable sleeps so that
// schedulers can be driven by a fake clock in tests.
package clock

import (
	"context"
	"time"
)

// MaxSlice bounds a single sleep slice in SleepUntil so wall-clock jumps
// are noticed within a second.
const MaxSlice = time.Second

// Clock abstracts time for the scheduler and poll cycle.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the system clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Sleep waits for d or ctx cancellation.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
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

// SleepUntil sleeps in slices of at most MaxSlice until the clock reaches t,
// re-reading the clock after every slice.
func SleepUntil(ctx context.Context, c Clock, t time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := t.Sub(c.Now())
		if remaining <= 0 {
			return nil
		}
		if remaining > MaxSlice {
			remaining = MaxSlice
		}
		if err := c.Sleep(ctx, remaining); err != nil {
			return err
		}
	}
}

// SleepFor sleeps for d in slices of at most MaxSlice.
func SleepFor(ctx context.Context, c Clock, d time.Duration) error {
	return SleepUntil(ctx, c, c.Now().Add(d))
}
