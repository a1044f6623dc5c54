// Package retry runs remote calls with a per-attempt timeout and bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy configures Do. Zero values fall back to a single attempt without timeout.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Timeout bounds each attempt, not the whole call.
	Timeout time.Duration
	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, err error, delay time.Duration)
}

const (
	defaultBaseDelay = 200 * time.Millisecond
	maxBackoff       = time.Hour
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryAfter can be implemented by errors that carry a server-provided delay hint.
type RetryAfter interface {
	RetryAfter() time.Duration
}

// Do calls fn until it succeeds, returns a permanent error, the parent context ends,
// or MaxAttempts is reached. The last error is returned wrapped with the attempt count.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	b := &hintedBackOff{policy: p, exp: p.exponential()}
	tries := 0
	var last error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++
		err := call(ctx, p.Timeout, fn)
		last, b.lastErr = err, err
		if err != nil && IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(tries, err, delay)
			}
		}),
	)
	if err == nil {
		return nil
	}
	if IsPermanent(last) {
		return last
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w (last error: %v)", ctx.Err(), last)
	}
	return fmt.Errorf("after %d attempts: %w", tries, last)
}

func call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// Delay returns the backoff before retry number attempt+1: BaseDelay doubled per attempt,
// capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	exp := p.exponential()
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = exp.NextBackOff()
	}
	return d
}

func (p Policy) exponential() *backoff.ExponentialBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = defaultBaseDelay
	}
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = p.MaxDelay
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = maxBackoff
	}
	exp.Reset()
	return exp
}

// hintedBackOff stretches the exponential delay to a RetryAfter hint carried by the last
// error, still capped at MaxDelay.
type hintedBackOff struct {
	policy  Policy
	exp     *backoff.ExponentialBackOff
	lastErr error
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	d := b.exp.NextBackOff()
	var ra RetryAfter
	if errors.As(b.lastErr, &ra) && ra.RetryAfter() > d {
		d = ra.RetryAfter()
		if b.policy.MaxDelay > 0 && d > b.policy.MaxDelay {
			d = b.policy.MaxDelay
		}
	}
	return d
}

func (b *hintedBackOff) Reset() { b.exp.Reset() }
