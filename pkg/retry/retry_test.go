package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnFatal(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		return NewFatalError(errors.New("bad credentials"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.EqualError(t, err, "bad credentials")
}

func TestRetryWithCallback_ReportsRetries(t *testing.T) {
	var seen []int
	err := RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		return errors.New("503")
	}, func(attempt int, err error, _ time.Duration) {
		seen = append(seen, attempt)
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestConstant(t *testing.T) {
	calls := 0
	err := Constant(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls == 2 {
			return nil
		}
		return errors.New("refused")
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, NoDelay(ctx, 1), context.Canceled)
	assert.NoError(t, FixedDelay(time.Millisecond)(context.Background(), 1))
}
