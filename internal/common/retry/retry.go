// Package retry implements the bounded exponential backoff policy shared by
// all network-calling pipeline stages.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy controls how an operation is retried. A Policy value is cheap to copy
// and safe to share; each call site parameterizes its own instance.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // cap for the exponential backoff
	Jitter      float64       // fraction of the delay randomized, 0..1
}

// DefaultPolicy matches the backoff the workers used before the policy was
// factored out: 3 attempts, 100ms base, doubling.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Jitter:      0.2,
	}
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do returns it immediately without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op up to MaxAttempts times, sleeping with exponential backoff between
// attempts. It stops early when op succeeds, when op returns a Permanent error,
// or when ctx is done. The returned error is the last error op produced
// (unwrapped from Permanent), or ctx.Err() if the context expired first.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.delay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
	}
	if d < 0 {
		d = 0
	}
	return d
}
