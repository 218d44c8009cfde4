package lifecycle

import (
	"context"
	"time"

	"github.com/rlch/lspmux/internal/brokererr"
)

// WithTimeout races fn against a wall-clock deadline. If fn settles first,
// its result is returned and the timer is cleared. If the deadline elapses
// first, fn's eventual result is discarded (fn is not forcibly cancelled —
// callers that need preemption must select on ctx themselves) and a
// brokererr.Timeout error is returned.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, brokererr.Wrap(brokererr.Timeout, "operation exceeded deadline", ctx.Err())
	}
}
