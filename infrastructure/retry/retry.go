package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Class int

const (
	Retryable Class = iota
	Fatal
)

// Policy bounds the retries of a call. Jitter is the randomization factor applied to every wait, in [0, 1].
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64

	// Classify decides whether an error is retryable. If nil, every error is retried.
	Classify func(error) Class

	OnRetry func(attempt int, wait time.Duration, err error)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	if p.Classify == nil {
		p.Classify = func(error) Class { return Retryable }
	}
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.MaxInterval = p.MaxDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = p.Jitter
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// Do calls fn until it succeeds, fails with a fatal error, the attempts are used up or ctx is done.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	_, err := call(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func call[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	attempt := 0
	operation := func() (T, error) {
		attempt++
		result, err := fn(ctx)
		if err != nil && p.Classify(err) == Fatal {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
	}

	return backoff.RetryNotifyWithData(operation, p.backOff(ctx), notify)
}
