package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/bobuk/gcalbridge/internal/remote"
)

// call runs fn with a per-attempt timeout, retrying transient failures with
// exponential backoff. Not-found, auth and other client errors are returned
// on the first attempt.
func (e *Engine) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.InitialBackoff
	b.MaxInterval = e.opts.MaxBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return struct{}{}, nil
		}
		if ctx.Err() != nil || !remote.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(e.opts.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.logger.Printf("%s failed, retrying in %s: %v", op, next.Round(time.Millisecond), err)
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}
