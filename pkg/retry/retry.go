package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/visionml/trainer/pkg/log"
)

// Connect calls fn until it succeeds, attempts are exhausted or ctx is done.
// The delay between attempts starts at base and doubles each time.
func Connect[T any](ctx context.Context, service string, attempts int, base time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	op := func() (T, error) {
		attempt++
		log.Info("connecting", "service", service, "attempt", attempt, "max_attempts", attempts)
		return fn(ctx)
	}

	notify := func(err error, wait time.Duration) {
		log.Warn("connection attempt failed", "service", service, "attempt", attempt, "retry_in", wait, "error", err)
	}

	out, err := backoff.RetryNotifyWithData(op, Exponential(ctx, base, 0, attempts-1), notify)
	if err != nil {
		var zero T
		return zero, errors.Wrapf(err, "failed to connect to %s after %d attempts", service, attempt)
	}

	log.Info("connected", "service", service, "attempt", attempt)
	return out, nil
}

// Exponential builds a doubling, unjittered backoff starting at base. A
// zero max leaves the interval uncapped; maxRetries < 0 retries forever.
func Exponential(ctx context.Context, base, max time.Duration, maxRetries int) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if max > 0 {
		b.MaxInterval = max
	} else {
		b.MaxInterval = 1<<63 - 1
	}
	b.Reset()

	var policy backoff.BackOff = b
	if maxRetries >= 0 {
		policy = backoff.WithMaxRetries(b, uint64(maxRetries))
	}

	return backoff.WithContext(policy, ctx)
}
