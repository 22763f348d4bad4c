package strategy

import (
	"context"
	"time"
)

const minBarSleep = 500 * time.Millisecond

// TimeSource yields the current time as epoch seconds, usually an exchange
// clock (exchange.Adapter.ServerTime).
type TimeSource func(ctx context.Context) (int64, error)

// MinuteWait returns how long to sleep from second-of-epoch st until just
// past the next minute boundary. The buffer absorbs candle-close lag on the
// exchange side; the result never goes below half a second so a late tick
// cannot spin the loop.
func MinuteWait(st int64, buffer time.Duration) time.Duration {
	d := time.Duration(60-st%60)*time.Second + buffer
	if d < minBarSleep {
		return minBarSleep
	}
	return d
}

// SleepUntilNextMinute blocks until the next minute boundary of the exchange
// clock plus buffer. A failed time read falls back to the local clock; the
// sleep is interruptible by ctx.
func SleepUntilNextMinute(ctx context.Context, src TimeSource, buffer time.Duration) error {
	st, err := src(ctx)
	if err != nil || st <= 0 {
		st = time.Now().Unix()
	}
	t := time.NewTimer(MinuteWait(st, buffer))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
