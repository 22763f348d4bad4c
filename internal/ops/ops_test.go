package ops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trungnq137/crypto-dip-bot/internal/drain"
	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
	"github.com/trungnq137/crypto-dip-bot/internal/store"
)

// opsVenue scripts the calls CancelAndDrain makes. Balance values are
// consumed per read; the last one repeats.
type opsVenue struct {
	name string

	rules    exchange.SymbolRules
	rulesErr error

	price string

	balances   []string
	balanceErr error

	cancelErr   error
	cancelCalls int

	sells []string
}

func (f *opsVenue) Name() string { return f.name }

func (f *opsVenue) ServerTime(context.Context) (int64, error) { return time.Now().Unix(), nil }

func (f *opsVenue) SymbolRules(context.Context, string) (exchange.SymbolRules, error) {
	if f.rulesErr != nil {
		return exchange.SymbolRules{}, f.rulesErr
	}
	return f.rules, nil
}

func (f *opsVenue) LastPrice(context.Context, string) (decimal.Decimal, error) {
	if f.price == "" {
		return decimal.Zero, errors.New("ticker endpoint down")
	}
	return decimal.RequireFromString(f.price), nil
}

func (f *opsVenue) PrevMinuteClose(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("not scripted")
}

func (f *opsVenue) PlaceLimitBuy(context.Context, string, string, string) (string, error) {
	return "", errors.New("not scripted")
}

func (f *opsVenue) MarketSell(_ context.Context, _ string, amount string) (string, error) {
	f.sells = append(f.sells, amount)
	return fmt.Sprintf("sell-%d", len(f.sells)), nil
}

func (f *opsVenue) CancelOrder(context.Context, string, string) error { return nil }

func (f *opsVenue) CancelAllOrders(context.Context, string) error {
	f.cancelCalls++
	return f.cancelErr
}

func (f *opsVenue) OpenOrders(context.Context, string) ([]exchange.Order, error) { return nil, nil }

func (f *opsVenue) OrderDetail(context.Context, string, string) (exchange.Order, error) {
	return exchange.Order{}, errors.New("not scripted")
}

func (f *opsVenue) AvailableBalance(context.Context, string) (decimal.Decimal, error) {
	if f.balanceErr != nil {
		return decimal.Zero, f.balanceErr
	}
	if len(f.balances) == 0 {
		return decimal.Zero, nil
	}
	v := f.balances[0]
	if len(f.balances) > 1 {
		f.balances = f.balances[1:]
	}
	return decimal.RequireFromString(v), nil
}

func (f *opsVenue) Trades(context.Context, string, time.Time, time.Time, int) ([]exchange.Trade, error) {
	return nil, nil
}

func registryWith(venues ...*opsVenue) *exchange.Registry {
	reg := exchange.NewRegistry()
	for _, v := range venues {
		reg.Register(v.name, func() (exchange.Adapter, error) { return v, nil })
	}
	return reg
}

func quietConfig() Config {
	return Config{
		Drain: drain.Config{
			BaseSleep: time.Millisecond,
			MaxSleep:  2 * time.Millisecond,
			MaxWait:   2 * time.Second,
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestCancelAndDrain_CancelsThenSells(t *testing.T) {
	venue := &opsVenue{
		name:     "gate",
		rules:    exchange.SymbolRules{AmountPrecision: 2, MinBase: decimal.RequireFromString("0.001")},
		price:    "100",
		balances: []string{"1", "0"},
	}

	left, err := CancelAndDrain(context.Background(), registryWith(venue), "gate", "BTC_USDT", quietConfig())
	require.NoError(t, err)

	assert.Equal(t, 1, venue.cancelCalls)
	assert.Equal(t, []string{"1.00"}, venue.sells)
	assert.True(t, left.IsZero())
}

func TestCancelAndDrain_MissingRulesDrainAtDefaultPrecision(t *testing.T) {
	venue := &opsVenue{
		name:     "gate",
		rulesErr: errors.New("symbols endpoint down"),
		balances: []string{"0.5", "0"},
	}

	left, err := CancelAndDrain(context.Background(), registryWith(venue), "gate", "BTC_USDT", quietConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"0.50000000"}, venue.sells)
	assert.True(t, left.IsZero())
}

func TestCancelAndDrain_CancelFailureStillDrains(t *testing.T) {
	venue := &opsVenue{
		name:      "gate",
		rules:     exchange.SymbolRules{AmountPrecision: 2},
		price:     "100",
		cancelErr: errors.New("cancel endpoint down"),
		balances:  []string{"1", "0"},
	}

	_, err := CancelAndDrain(context.Background(), registryWith(venue), "gate", "BTC_USDT", quietConfig())
	require.NoError(t, err)

	assert.Equal(t, 1, venue.cancelCalls)
	assert.Equal(t, []string{"1.00"}, venue.sells)
}

func TestCancelAndDrain_UnknownExchange(t *testing.T) {
	_, err := CancelAndDrain(context.Background(), exchange.NewRegistry(), "okx", "BTC_USDT", quietConfig())
	require.Error(t, err)
	assert.ErrorContains(t, err, "not registered")
}

func TestSweepAll_ContinuesPastFailingPair(t *testing.T) {
	broken := &opsVenue{
		name:       "gate",
		rules:      exchange.SymbolRules{AmountPrecision: 2},
		balanceErr: errors.New("balance endpoint down"),
	}
	healthy := &opsVenue{
		name:     "htx",
		rules:    exchange.SymbolRules{AmountPrecision: 2},
		price:    "100",
		balances: []string{"1", "0"},
	}
	pairs := []store.PairConfig{
		{Idx: 1, Exchange: "gate", Pair: "BTC_USDT", Enabled: true},
		{Idx: 2, Exchange: "htx", Pair: "ETH_USDT", Enabled: true},
	}

	SweepAll(context.Background(), registryWith(broken, healthy), pairs, quietConfig())

	assert.Equal(t, 1, broken.cancelCalls)
	assert.Equal(t, 1, healthy.cancelCalls)
	assert.Equal(t, []string{"1.00"}, healthy.sells)
}
