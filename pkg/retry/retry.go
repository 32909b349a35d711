package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Permanent marks an error as not retryable. Do stops immediately when
// the callback returns an error wrapped with Permanent.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do will not retry it.
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

// Policy describes a bounded exponential backoff. The zero value is not
// usable; construct with DefaultPolicy or fill every field.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool

	// sleep is injectable for deterministic tests.
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// DefaultPolicy returns the policy used when callers pass a zero
// MaxAttempts: 3 attempts, 1s base, 30s cap, jittered.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// WithSleep returns a copy of p using fn instead of a real timer.
func (p Policy) WithSleep(fn func(ctx context.Context, d time.Duration) error) Policy {
	p.sleep = fn
	return p
}

// Delay computes the backoff before attempt (zero-based, so the delay
// after the first failure is Delay(0)).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter {
		r := p.rand
		if r == nil {
			r = rand.Float64
		}
		// Spread over [d/2, d) so synchronized callers fan out.
		d = d/2 + time.Duration(r()*float64(d/2))
	}
	return d
}

// Do runs fn up to MaxAttempts times, sleeping between failures.
// It returns immediately on success, on a Permanent error, or when the
// context is done. The last error is returned after exhaustion.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultPolicy().MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			var pe *permanentError
			errors.As(err, &pe)
			return pe.err
		}
		if attempt == attempts-1 {
			break
		}

		if err := p.wait(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
