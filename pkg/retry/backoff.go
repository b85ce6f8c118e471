package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func ExponentialBackoff(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	exp.Reset()
	return exp
}

// Delay waits between two task-level attempts. attempt is the attempt that
// just failed, starting at 1.
type Delay func(ctx context.Context, attempt int) error

// FixedDelay waits the same interval after every attempt.
func FixedDelay(interval time.Duration) Delay {
	b := backoff.NewConstantBackOff(interval)
	return func(ctx context.Context, _ int) error {
		return Sleep(ctx, b.NextBackOff())
	}
}

// NoDelay returns immediately unless ctx is already done.
func NoDelay(ctx context.Context, _ int) error {
	return ctx.Err()
}

func Sleep(ctx context.Context, d time.Duration) error {
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
