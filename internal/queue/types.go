package queue

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by Pop when the bounded wait elapses with no task.
var ErrEmpty = errors.New("queue: no task within wait")

type Producer interface {
	Push(ctx context.Context, task Task) error
	Close() error
}

type Consumer interface {
	Pop(ctx context.Context, wait time.Duration) (*Delivery, error)
	Close() error
}

// Delivery is one popped task. Ack tells the backend the task finished its
// cycle; backends that remove on pop treat it as a no-op.
type Delivery struct {
	Task Task
	// Ctx carries trace context propagated by the producer, if any.
	Ctx context.Context
	ack func(ctx context.Context) error
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}
