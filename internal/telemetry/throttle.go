package telemetry

import (
	"sync"
	"time"
)

// Throttle suppresses repeats of the same (event, key) pair inside a
// cooldown window. It gates the noisy per-pair sizing notifications without
// touching the one-off lifecycle events.
type Throttle struct {
	cooldown time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewThrottle(cooldown time.Duration) *Throttle {
	return &Throttle{
		cooldown: cooldown,
		seen:     make(map[string]time.Time),
	}
}

// Allow reports whether this (event, key) may fire now, and if so starts a
// new cooldown window for it.
func (t *Throttle) Allow(event, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := event + "|" + key
	now := time.Now()
	if last, ok := t.seen[k]; ok && now.Sub(last) < t.cooldown {
		return false
	}
	t.seen[k] = now
	return true
}
