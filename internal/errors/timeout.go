package errors

import (
	"context"
	"time"
)

// WithDeadline runs fn under a scoped deadline. If the deadline expires
// before fn returns, the result is a KindTimeout error naming the
// operation. A parent cancellation is passed through unchanged.
//
// fn must honour ctx; WithDeadline does not abandon a running fn, it
// waits for it to observe the cancellation.
func WithDeadline(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	start := time.Now()
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(dctx)
	if err == nil {
		return nil
	}

	// Only reclassify when our own deadline fired, not the parent's.
	if dctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return TimeoutError(op, timeout, time.Since(start))
	}
	return err
}
