package reply

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "mailreply/pkg/errors"
	"mailreply/pkg/retry"
)

func states(res Result) []State {
	out := []State{StateAttempting}
	for _, t := range res.Transitions {
		out = append(out, t.To)
	}
	return out
}

func TestGovernor_SucceedsFirstTime(t *testing.T) {
	g := Governor{MaxAttempts: 3, Delay: retry.NoDelay}
	res := g.Run(context.Background(), func(context.Context, int) error { return nil })

	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.Err)
	assert.Equal(t, []State{StateAttempting, StateSucceeded}, states(res))
}

func TestGovernor_RetriesTransientThenSucceeds(t *testing.T) {
	var delays []int
	g := Governor{MaxAttempts: 3, Delay: func(_ context.Context, attempt int) error {
		delays = append(delays, attempt)
		return nil
	}}

	res := g.Run(context.Background(), func(_ context.Context, n int) error {
		if n < 3 {
			return pkgerrors.ErrTransport.WithMessage("timeout")
		}
		return nil
	})

	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []int{1, 2}, delays)
	assert.Equal(t, []State{
		StateAttempting, StateRetrying, StateAttempting, StateRetrying, StateAttempting, StateSucceeded,
	}, states(res))
}

func TestGovernor_ExhaustionAbandons(t *testing.T) {
	g := Governor{MaxAttempts: 3, Delay: retry.NoDelay}
	calls := 0
	res := g.Run(context.Background(), func(context.Context, int) error {
		calls++
		return pkgerrors.ErrUpstreamDegraded
	})

	assert.Equal(t, StateAbandoned, res.State)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, res.Err, pkgerrors.ErrUpstreamDegraded)
}

func TestGovernor_UnclassifiedErrorsAreRetried(t *testing.T) {
	g := Governor{MaxAttempts: 2, Delay: retry.NoDelay}
	calls := 0
	res := g.Run(context.Background(), func(context.Context, int) error {
		calls++
		return errors.New("pq: could not serialize access")
	})

	assert.Equal(t, StateAbandoned, res.State)
	assert.Equal(t, 2, calls)
}

func TestGovernor_FatalStopsImmediately(t *testing.T) {
	g := Governor{MaxAttempts: 5, Delay: func(context.Context, int) error {
		t.Fatal("fatal errors must not wait")
		return nil
	}}
	calls := 0
	res := g.Run(context.Background(), func(context.Context, int) error {
		calls++
		return pkgerrors.ErrCredential.WithMessage("535 bad credentials")
	})

	assert.Equal(t, StateFatalStop, res.State)
	assert.Equal(t, 1, calls)
	assert.True(t, pkgerrors.IsCredential(res.Err))
	assert.Equal(t, []State{StateAttempting, StateFatalStop}, states(res))
}

func TestGovernor_IntegrityErrorAbandonsWithoutRetry(t *testing.T) {
	g := Governor{MaxAttempts: 5, Delay: retry.NoDelay}
	calls := 0
	res := g.Run(context.Background(), func(context.Context, int) error {
		calls++
		return pkgerrors.ErrDataIntegrity
	})

	assert.Equal(t, StateAbandoned, res.State)
	assert.Equal(t, 1, calls)
}

func TestGovernor_DelayInterruptedAbandons(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := Governor{MaxAttempts: 3, Delay: retry.NoDelay}
	res := g.Run(ctx, func(context.Context, int) error {
		cancel()
		return pkgerrors.ErrTransport
	})

	assert.Equal(t, StateAbandoned, res.State)
	assert.Equal(t, 1, res.Attempts)
	require.NotEmpty(t, res.Transitions)
	assert.ErrorIs(t, res.Transitions[len(res.Transitions)-1].Err, context.Canceled)
}

func TestGovernor_ZeroMaxAttemptsRunsOnce(t *testing.T) {
	calls := 0
	res := Governor{}.Run(context.Background(), func(context.Context, int) error {
		calls++
		return pkgerrors.ErrTransport
	})
	assert.Equal(t, StateAbandoned, res.State)
	assert.Equal(t, 1, calls)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "fatal_stop", StateFatalStop.String())
	assert.Equal(t, "retrying", StateRetrying.String())
	assert.Equal(t, "unknown", State(42).String())
}
