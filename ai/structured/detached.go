package structured

import (
	"context"

	"github.com/teranos/ontogen/errors"
)

// RunDetached runs fn on its own goroutine and waits for its result or ctx.
//
// When ctx ends first the call is abandoned: RunDetached returns ctx.Err()
// and fn keeps running until it observes the cancellation. fn must share no
// mutable state with the caller; its only output is the returned value.
func RunDetached[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	// Buffered so an abandoned call can still deliver and exit
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: errors.Newf("detached call panicked: %v", r)}
			}
		}()
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
