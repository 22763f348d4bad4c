package exchange

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a minimal Adapter for registry and decorator tests.
// Individual call behavior is overridden through the func fields.
type fakeAdapter struct {
	name       string
	lastPrice  func() (decimal.Decimal, error)
	marketSell func() (string, error)
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) ServerTime(context.Context) (int64, error) { return time.Now().Unix(), nil }

func (f *fakeAdapter) SymbolRules(context.Context, string) (SymbolRules, error) {
	return SymbolRules{PricePrecision: 2, AmountPrecision: 4}, nil
}

func (f *fakeAdapter) LastPrice(context.Context, string) (decimal.Decimal, error) {
	if f.lastPrice != nil {
		return f.lastPrice()
	}
	return decimal.NewFromInt(100), nil
}

func (f *fakeAdapter) PrevMinuteClose(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}

func (f *fakeAdapter) PlaceLimitBuy(context.Context, string, string, string) (string, error) {
	return "buy-1", nil
}

func (f *fakeAdapter) MarketSell(context.Context, string, string) (string, error) {
	if f.marketSell != nil {
		return f.marketSell()
	}
	return "sell-1", nil
}

func (f *fakeAdapter) CancelOrder(context.Context, string, string) error { return nil }

func (f *fakeAdapter) CancelAllOrders(context.Context, string) error { return nil }

func (f *fakeAdapter) OpenOrders(context.Context, string) ([]Order, error) { return nil, nil }

func (f *fakeAdapter) OrderDetail(context.Context, string, string) (Order, error) {
	return Order{}, nil
}

func (f *fakeAdapter) AvailableBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeAdapter) Trades(context.Context, string, time.Time, time.Time, int) ([]Trade, error) {
	return nil, nil
}

func TestRegistry_ConstructsExactlyOnce(t *testing.T) {
	r := NewRegistry()
	var constructed atomic.Int32
	r.Register("gate", func() (Adapter, error) {
		constructed.Add(1)
		return &fakeAdapter{name: "gate"}, nil
	})

	const n = 16
	results := make([]Adapter, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ad, err := r.Get("gate")
			require.NoError(t, err)
			results[i] = ad
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), constructed.Load())
	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestRegistry_UnknownCode(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("kraken")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeNotRegistered))
}

func TestRegistry_CodesSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("htx", func() (Adapter, error) { return &fakeAdapter{name: "htx"}, nil })
	r.Register("gate", func() (Adapter, error) { return &fakeAdapter{name: "gate"}, nil })
	r.Register("bybit", func() (Adapter, error) { return &fakeAdapter{name: "bybit"}, nil })

	assert.Equal(t, []string{"bybit", "gate", "htx"}, r.Codes())
}

func TestRegistry_CodeNormalization(t *testing.T) {
	r := NewRegistry()
	r.Register(" Gate ", func() (Adapter, error) { return &fakeAdapter{name: "gate"}, nil })

	ad, err := r.Get("GATE")
	require.NoError(t, err)
	assert.Equal(t, "gate", ad.Name())
}

func TestRegistry_ReRegisterAndClear(t *testing.T) {
	r := NewRegistry()
	first := &fakeAdapter{name: "gate"}
	second := &fakeAdapter{name: "gate"}
	r.Register("gate", func() (Adapter, error) { return first, nil })

	got, err := r.Get("gate")
	require.NoError(t, err)
	assert.Same(t, Adapter(first), got)

	// The cached instance survives re-registration until an explicit clear.
	r.Register("gate", func() (Adapter, error) { return second, nil })
	got, err = r.Get("gate")
	require.NoError(t, err)
	assert.Same(t, Adapter(first), got)

	r.ClearInstances()
	got, err = r.Get("gate")
	require.NoError(t, err)
	assert.Same(t, Adapter(second), got)
}

func TestRegistry_FactoryFailureIsNotCached(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("htx", func() (Adapter, error) {
		calls++
		if calls == 1 {
			return nil, NewTransient("htx", "boot failure")
		}
		return &fakeAdapter{name: "htx"}, nil
	})

	_, err := r.Get("htx")
	require.Error(t, err)

	ad, err := r.Get("htx")
	require.NoError(t, err)
	assert.Equal(t, "htx", ad.Name())
	assert.Equal(t, 2, calls)
}
