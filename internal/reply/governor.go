package reply

import (
	"context"

	pkgerrors "mailreply/pkg/errors"
	"mailreply/pkg/metrics"
	"mailreply/pkg/retry"
)

type State int

const (
	StateAttempting State = iota
	StateRetrying
	StateSucceeded
	StateAbandoned
	StateFatalStop
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateAbandoned:
		return "abandoned"
	case StateFatalStop:
		return "fatal_stop"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StateSucceeded || s == StateAbandoned || s == StateFatalStop
}

type Transition struct {
	From    State
	To      State
	Attempt int
	Err     error
}

// Result is the terminal state of one governed task.
type Result struct {
	State       State
	Attempts    int
	Err         error
	Transitions []Transition
}

// Governor bounds the attempts of one task. Fatal errors stop at once,
// integrity errors abandon at once, anything else is retried after Delay
// until MaxAttempts is spent.
type Governor struct {
	MaxAttempts int
	Delay       retry.Delay
}

type AttemptFunc func(ctx context.Context, attempt int) error

func (g Governor) Run(ctx context.Context, attempt AttemptFunc) Result {
	maxAttempts := g.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := g.Delay
	if delay == nil {
		delay = retry.NoDelay
	}

	res := Result{State: StateAttempting}
	move := func(to State, err error) {
		res.Transitions = append(res.Transitions, Transition{From: res.State, To: to, Attempt: res.Attempts, Err: err})
		res.State = to
	}

	for !res.State.terminal() {
		switch res.State {
		case StateAttempting:
			res.Attempts++
			err := attempt(ctx, res.Attempts)
			res.Err = err
			switch {
			case err == nil:
				metrics.ReplyAttemptsTotal.WithLabelValues("success").Inc()
				move(StateSucceeded, nil)
			case pkgerrors.IsFatal(err):
				metrics.ReplyAttemptsTotal.WithLabelValues("fatal").Inc()
				move(StateFatalStop, err)
			case !pkgerrors.IsRetryable(err):
				metrics.ReplyAttemptsTotal.WithLabelValues("integrity").Inc()
				move(StateAbandoned, err)
			case res.Attempts >= maxAttempts:
				metrics.ReplyAttemptsTotal.WithLabelValues("exhausted").Inc()
				move(StateAbandoned, err)
			default:
				metrics.ReplyAttemptsTotal.WithLabelValues("retry").Inc()
				move(StateRetrying, err)
			}

		case StateRetrying:
			if err := delay(ctx, res.Attempts); err != nil {
				move(StateAbandoned, err)
				continue
			}
			move(StateAttempting, nil)
		}
	}
	return res
}
