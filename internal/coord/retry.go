package coord

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrRetry marks an attempt that lost an optimistic race and may be repeated.
var ErrRetry = errors.New("retry")

// ErrAttemptsExhausted is returned when every attempt asked for a retry.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// RetryPolicy bounds Retry.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy is used when a zero policy is supplied.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseBackoff: 5 * time.Millisecond,
	MaxBackoff:  200 * time.Millisecond,
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = DefaultRetryPolicy.BaseBackoff
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	return p
}

// Backoff returns the wait before the attempt following attempt (zero-based):
// base*2^attempt plus up to half of that as jitter, capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt > 30 {
		attempt = 30
	}
	exp := p.BaseBackoff * time.Duration(1<<attempt)
	if exp <= 0 || exp > p.MaxBackoff {
		exp = p.MaxBackoff
	}
	wait := exp
	if half := int64(exp / 2); half > 0 {
		wait += time.Duration(rand.Int63n(half))
	}
	if wait > p.MaxBackoff {
		wait = p.MaxBackoff
	}
	return wait
}

// Retry runs fn until it returns an error not wrapping ErrRetry, or until the
// attempts run out, in which case the last error is joined with
// ErrAttemptsExhausted. Context cancellation stops the wait between attempts.
func Retry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) error {
	policy = policy.normalized()
	var err error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil || !errors.Is(err, ErrRetry) {
			return err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		timer := time.NewTimer(policy.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return errors.Join(ErrAttemptsExhausted, err)
}
