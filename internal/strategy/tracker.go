package strategy

import "sync"

// Tracker holds the last placed buy order id per (exchange, pair) slot. Only
// the pair's own task writes its slot during a cycle; the slot is cleared on
// cancel or on any error path so ids never leak into the next cycle.
type Tracker struct {
	mu  sync.Mutex
	ids map[string]string
}

func NewTracker() *Tracker {
	return &Tracker{ids: make(map[string]string)}
}

func slotKey(exchange, pair string) string { return exchange + ":" + pair }

func (t *Tracker) Set(exchange, pair, orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids[slotKey(exchange, pair)] = orderID
}

// Get returns the tracked order id, or "" when the slot is empty.
func (t *Tracker) Get(exchange, pair string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ids[slotKey(exchange, pair)]
}

func (t *Tracker) Clear(exchange, pair string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ids, slotKey(exchange, pair))
}

func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.ids)
}
