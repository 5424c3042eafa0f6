// Package retry is the explicit retry policy handed to network adapters.
// Attempt counts, delays and jitter are configuration, not constants baked
// into each client.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes capped exponential backoff with jitter.
type Policy struct {
	MaxAttempts int           // total attempts including the first; values below 1 mean 1
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // upper bound on any single delay
	Multiplier  float64       // growth factor between delays
	Jitter      float64       // randomization factor in [0,1]
}

// DefaultPolicy retries three times over roughly two seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
	}
}

// None performs exactly one attempt.
func None() Policy {
	return Policy{MaxAttempts: 1}
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs op until it succeeds, returns a permanent error, or the attempts
// are exhausted. It returns the last error from op, or the context's error
// when ctx ends while waiting between attempts.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(1, p.MaxAttempts)

	var b backoff.BackOff = p.backOff()
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return backoff.Permanent(pe.err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		eb.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	if p.Multiplier >= 1 {
		eb.Multiplier = p.Multiplier
	}
	eb.RandomizationFactor = min(max(p.Jitter, 0), 1)
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}
