package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_SlotsAreScopedByExchange(t *testing.T) {
	tr := NewTracker()

	tr.Set("gate", "BTC_USDT", "g-1")
	tr.Set("htx", "BTC_USDT", "h-1")

	assert.Equal(t, "g-1", tr.Get("gate", "BTC_USDT"))
	assert.Equal(t, "h-1", tr.Get("htx", "BTC_USDT"))
	assert.Equal(t, "", tr.Get("gate", "ETH_USDT"))
}

func TestTracker_ClearDropsOneSlot(t *testing.T) {
	tr := NewTracker()
	tr.Set("gate", "BTC_USDT", "g-1")
	tr.Set("gate", "ETH_USDT", "g-2")

	tr.Clear("gate", "BTC_USDT")

	assert.Equal(t, "", tr.Get("gate", "BTC_USDT"))
	assert.Equal(t, "g-2", tr.Get("gate", "ETH_USDT"))
}

func TestTracker_ClearAll(t *testing.T) {
	tr := NewTracker()
	tr.Set("gate", "BTC_USDT", "g-1")
	tr.Set("htx", "ETH_USDT", "h-2")

	tr.ClearAll()

	assert.Equal(t, "", tr.Get("gate", "BTC_USDT"))
	assert.Equal(t, "", tr.Get("htx", "ETH_USDT"))
}
