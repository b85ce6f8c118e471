package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered value into an internal error carrying the stack.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("panic: %v", r)
	}

	return ErrInternal.
		WithMessage("recovered from panic").
		WithCause(cause).
		WithDetail("stack_trace", string(debug.Stack()))
}

// Guard runs fn and reports a panic inside it as an error, so one bad task
// cannot take down a worker.
func Guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = RecoverPanic(r)
		}
	}()
	fn()
	return nil
}
