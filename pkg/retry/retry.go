// Package retry re-runs record store calls that fail with transient errors,
// backing off exponentially with jitter between attempts.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

type marked struct {
	err       error
	permanent bool
}

func (m *marked) Error() string { return m.err.Error() }
func (m *marked) Unwrap() error { return m.err }

// Retryable marks err as worth another attempt regardless of the policy's
// classifier.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err}
}

// Permanent marks err as final. Do returns the unwrapped error at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, permanent: true}
}

func classify(err error) (m *marked, ok bool) {
	ok = errors.As(err, &m)
	return m, ok
}

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	// Attempts counts the first call. Values below 1 mean one call.
	Attempts int

	// BaseDelay is the wait before the second attempt; each later wait
	// doubles up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Jitter spreads each wait by ±Jitter of its length.
	Jitter float64

	// Transient reports errors worth another attempt. Nil retries only
	// errors marked with Retryable.
	Transient func(error) bool
}

// Retrier runs operations under a Policy.
type Retrier struct {
	policy Policy
}

// New returns a Retrier for p.
func New(p Policy) *Retrier {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	return &Retrier{policy: p}
}

// StoreRetrier retries record store and unlock writes three times within
// about a second. isTransient classifies driver errors.
func StoreRetrier(isTransient func(error) bool) *Retrier {
	return New(Policy{
		Attempts:  3,
		BaseDelay: 50 * time.Millisecond,
		MaxDelay:  time.Second,
		Jitter:    0.05,
		Transient: isTransient,
	})
}

// Do calls op until it succeeds, fails with a non-transient error, the
// attempts run out or ctx ends. The last error is returned without the
// Retryable marker.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		m, isMarked := classify(err)
		if isMarked {
			last = m.err
			if m.permanent {
				return last
			}
		} else {
			last = err
			if r.policy.Transient == nil || !r.policy.Transient(err) {
				return last
			}
		}
		if attempt >= r.policy.Attempts {
			return last
		}

		timer := time.NewTimer(r.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
}

// backoff is the wait after the given failed attempt.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := r.policy.BaseDelay
	for i := 1; i < attempt && d < r.policy.MaxDelay; i++ {
		d *= 2
	}
	if d > r.policy.MaxDelay {
		d = r.policy.MaxDelay
	}
	if r.policy.Jitter > 0 {
		d += time.Duration(float64(d) * r.policy.Jitter * (rand.Float64()*2 - 1))
	}
	if d < 0 {
		return 0
	}
	return d
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}
