package retry

import (
	"context"
	"errors"
	"time"

	"seekcap-controlplane/pkg/errutil"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const maxReadRetries = 3

// Read runs an idempotent read with bounded exponential backoff. Errors that
// already carry a domain kind (not found, validation...) stop immediately.
// Mutations must never go through Read.
func Read[T any](ctx context.Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond

	var out T
	attempt := 0
	op := func() error {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			out = v
			return nil
		}
		var be errutil.BaseError
		if errors.As(err, &be) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		zap.L().Warn("store read failed, retrying", zap.String("read", name), zap.Int("attempt", attempt), zap.Error(err))
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, maxReadRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return out, errutil.FromStore(err, false)
	}
	return out, nil
}

// OnConflict runs a mutation and repeats it once when it lost a
// compare-and-set race. fn must re-read the current state itself.
func OnConflict[T any](ctx context.Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	out, err := fn(ctx)
	if err == nil || !errutil.Is(err, errutil.StatusConflict) || ctx.Err() != nil {
		return out, err
	}

	zap.L().Info("conflicting write, retrying once", zap.String("mutation", name))
	return fn(ctx)
}
