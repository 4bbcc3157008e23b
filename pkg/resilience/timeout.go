package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
)

// Call runs fn under a deadline and gives up when it passes, even if fn
// does not watch its context. A deadline failure wraps ErrTimeout and
// context.DeadlineExceeded. A zero timeout runs fn directly.
func Call[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx2)
		ch <- result{v, err}
	}()

	var zero T
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx2.Done():
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		return zero, fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, context.DeadlineExceeded)
	}
}
