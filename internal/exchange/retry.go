package exchange

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy drives transient-error retries for adapter calls. Attempts counts
// total tries, not extra retries: Attempts=2 means one retry after the first
// failure. Implemented once here and shared by every adapter.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	JitterMax time.Duration

	// OnRetry, when set, observes every retry decision before the backoff
	// sleep. Used for logging and metrics; never influences control flow.
	OnRetry func(op string, attempt int, err error, delay time.Duration)
}

// DefaultPolicy mirrors the production backoff: 250ms base doubling per
// attempt plus up to 200ms of jitter.
func DefaultPolicy(attempts int) Policy {
	if attempts < 1 {
		attempts = 1
	}
	return Policy{
		Attempts:  attempts,
		BaseDelay: 250 * time.Millisecond,
		JitterMax: 200 * time.Millisecond,
	}
}

// Do runs fn up to p.Attempts times. Permanent errors and the final
// attempt's failure return immediately; there is no sleep after the last
// attempt. Context cancellation aborts the backoff wait.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		last = err

		if !IsTransient(err) || i == attempts-1 {
			return err
		}

		delay := p.delay(i)
		if p.OnRetry != nil {
			p.OnRetry(op, i+1, err, delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return last
}

func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if p.JitterMax > 0 {
		d += time.Duration(rand.Int63n(int64(p.JitterMax)))
	}
	return d
}

// Try is Do for calls that return a value.
func Try[T any](ctx context.Context, p Policy, op string, fn func() (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
