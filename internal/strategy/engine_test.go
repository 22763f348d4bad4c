package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trungnq137/crypto-dip-bot/internal/drain"
	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
	"github.com/trungnq137/crypto-dip-bot/internal/store"
)

type placeCall struct {
	pair   string
	price  string
	amount string
}

// cycleVenue is a scripted adapter for exercising whole cycles. All
// recording is mutex-guarded because pair tasks run concurrently.
type cycleVenue struct {
	mu sync.Mutex

	name       string
	serverTime int64
	rules      exchange.SymbolRules
	rulesErr   error
	prevClose  string
	last       string
	balances   map[string]string
	placeID    string
	placeErr   error

	placeCalls []placeCall
	sells      []string
	cancelled  []string
	cancelAll  int
}

func newCycleVenue(name string) *cycleVenue {
	return &cycleVenue{
		name:       name,
		serverTime: 119, // one second before a minute boundary
		rules: exchange.SymbolRules{
			PricePrecision:  2,
			AmountPrecision: 4,
			MinBase:         dec("0.0001"),
			MinQuote:        dec("5"),
		},
		prevClose: "100",
		last:      "99",
		balances:  map[string]string{"USDT": "1000"},
		placeID:   "oid-1",
	}
}

func (v *cycleVenue) Name() string { return v.name }

func (v *cycleVenue) ServerTime(ctx context.Context) (int64, error) { return v.serverTime, nil }

func (v *cycleVenue) SymbolRules(ctx context.Context, pair string) (exchange.SymbolRules, error) {
	if v.rulesErr != nil {
		return exchange.SymbolRules{}, v.rulesErr
	}
	return v.rules, nil
}

func (v *cycleVenue) LastPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	return dec(v.last), nil
}

func (v *cycleVenue) PrevMinuteClose(ctx context.Context, pair string) (decimal.Decimal, error) {
	return dec(v.prevClose), nil
}

func (v *cycleVenue) PlaceLimitBuy(ctx context.Context, pair, price, amount string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.placeErr != nil {
		return "", v.placeErr
	}
	v.placeCalls = append(v.placeCalls, placeCall{pair, price, amount})
	return v.placeID, nil
}

func (v *cycleVenue) MarketSell(ctx context.Context, pair, amount string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sells = append(v.sells, amount)
	return "sell-1", nil
}

func (v *cycleVenue) CancelOrder(ctx context.Context, pair, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, orderID)
	return nil
}

func (v *cycleVenue) CancelAllOrders(ctx context.Context, pair string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelAll++
	return nil
}

func (v *cycleVenue) OpenOrders(ctx context.Context, pair string) ([]exchange.Order, error) {
	return nil, nil
}

func (v *cycleVenue) OrderDetail(ctx context.Context, pair, orderID string) (exchange.Order, error) {
	return exchange.Order{}, nil
}

func (v *cycleVenue) AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.balances[asset]; ok {
		return dec(s), nil
	}
	return decimal.Zero, nil
}

func (v *cycleVenue) Trades(ctx context.Context, pair string, from, to time.Time, limit int) ([]exchange.Trade, error) {
	return nil, nil
}

type fakeParams struct {
	pairs    []store.PairConfig
	paused   bool
	shutdown bool
	pairsErr error
}

func (f *fakeParams) ActivePairs(ctx context.Context) ([]store.PairConfig, error) {
	return f.pairs, f.pairsErr
}

func (f *fakeParams) Paused(ctx context.Context) (bool, error) { return f.paused, nil }

func (f *fakeParams) Shutdown(ctx context.Context) (bool, error) { return f.shutdown, nil }

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Notify(event, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

type countingTicker struct{ calls int }

func (c *countingTicker) Tick(ctx context.Context) { c.calls++ }

func testPair(exchangeCode, pair string) store.PairConfig {
	return store.PairConfig{
		Idx:          1,
		Exchange:     exchangeCode,
		Pair:         pair,
		DeviationPct: dec("3"),
		GapMode:      "down_only",
		GapSwitchPct: dec("1"),
		Enabled:      true,
	}
}

func newTestEngine(p *fakeParams, n *recordingNotifier, tickers []Ticker, venues ...*cycleVenue) *Engine {
	reg := exchange.NewRegistry()
	for _, v := range venues {
		reg.Register(v.name, func() (exchange.Adapter, error) { return v, nil })
	}
	return New(Config{
		Registry:        reg,
		Params:          p,
		Notifier:        n,
		Tickers:         tickers,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		DefaultExchange: venues[0].name,
		BarBuffer:       10 * time.Millisecond,
		Drain: drain.Config{
			BaseSleep: time.Millisecond,
			MaxSleep:  2 * time.Millisecond,
			MaxWait:   100 * time.Millisecond,
		},
	})
}

func TestRunCycle_PlacesThenCleansOnePair(t *testing.T) {
	v := newCycleVenue("gate")
	p := &fakeParams{pairs: []store.PairConfig{testPair("gate", "BTC_USDT")}}
	n := &recordingNotifier{}
	tk := &countingTicker{}
	e := newTestEngine(p, n, []Ticker{tk}, v)

	require.NoError(t, e.runCycle(context.Background()))

	// Gap is exactly 1% with a 1% down_only switch: the threshold is
	// strict, so the candle close stays the reference. 100 * 0.97 at two
	// price places, 998.50 spendable at four amount places.
	require.Len(t, v.placeCalls, 1)
	assert.Equal(t, placeCall{"BTC_USDT", "97.00", "10.2938"}, v.placeCalls[0])

	assert.Equal(t, []string{"oid-1"}, v.cancelled)
	assert.Equal(t, 2, v.cancelAll)
	assert.Equal(t, "", e.Tracked("gate", "BTC_USDT"))
	assert.Equal(t, 1, tk.calls)
	assert.Empty(t, n.events)
	assert.Empty(t, v.sells)
}

func TestRunCycle_FansOutAcrossExchanges(t *testing.T) {
	gate := newCycleVenue("gate")
	htx := newCycleVenue("htx")
	p := &fakeParams{pairs: []store.PairConfig{
		testPair("gate", "BTC_USDT"),
		testPair("htx", "ETH_USDT"),
	}}
	e := newTestEngine(p, &recordingNotifier{}, nil, gate, htx)

	require.NoError(t, e.runCycle(context.Background()))

	require.Len(t, gate.placeCalls, 1)
	require.Len(t, htx.placeCalls, 1)
	assert.Equal(t, "BTC_USDT", gate.placeCalls[0].pair)
	assert.Equal(t, "ETH_USDT", htx.placeCalls[0].pair)
}

func TestRunCycle_PausedOnlyServicesTickers(t *testing.T) {
	v := newCycleVenue("gate")
	p := &fakeParams{paused: true, pairs: []store.PairConfig{testPair("gate", "BTC_USDT")}}
	tk := &countingTicker{}
	e := newTestEngine(p, &recordingNotifier{}, []Ticker{tk}, v)

	require.NoError(t, e.runCycle(context.Background()))

	assert.Empty(t, v.placeCalls)
	assert.Zero(t, v.cancelAll)
	assert.Equal(t, 1, tk.calls)
}

func TestRunCycle_ParamsErrorPropagates(t *testing.T) {
	v := newCycleVenue("gate")
	p := &fakeParams{pairsErr: errors.New("db down")}
	e := newTestEngine(p, &recordingNotifier{}, nil, v)

	err := e.runCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active pairs")
}

func TestPlacePair_InsufficientBalanceClearsSlot(t *testing.T) {
	v := newCycleVenue("gate")
	v.balances["USDT"] = "0"
	e := newTestEngine(&fakeParams{}, &recordingNotifier{}, nil, v)
	e.tracker.Set("gate", "BTC_USDT", "stale-1")

	e.placePair(context.Background(), testPair("gate", "BTC_USDT"))

	assert.Empty(t, v.placeCalls)
	assert.Equal(t, "", e.Tracked("gate", "BTC_USDT"))
}

func TestPlacePair_RejectedOrderClearsSlot(t *testing.T) {
	v := newCycleVenue("gate")
	v.placeErr = errors.New("balance moved")
	e := newTestEngine(&fakeParams{}, &recordingNotifier{}, nil, v)
	e.tracker.Set("gate", "BTC_USDT", "stale-1")

	e.placePair(context.Background(), testPair("gate", "BTC_USDT"))

	assert.Equal(t, "", e.Tracked("gate", "BTC_USDT"))
}

func TestPlacePair_ResizeNotifiedOncePerCooldown(t *testing.T) {
	v := newCycleVenue("gate")
	v.balances["USDT"] = "100"
	pc := testPair("gate", "BTC_USDT")
	pc.Quote = dec("500") // wants far more than the wallet holds
	n := &recordingNotifier{}
	e := newTestEngine(&fakeParams{}, n, nil, v)

	e.placePair(context.Background(), pc)
	e.placePair(context.Background(), pc)

	assert.Len(t, v.placeCalls, 2)
	assert.Equal(t, []string{"auto_resize_buy"}, n.events)
}

func TestCleanPair_CancelsTrackedOrderThenSweeps(t *testing.T) {
	v := newCycleVenue("gate")
	e := newTestEngine(&fakeParams{}, &recordingNotifier{}, nil, v)
	e.tracker.Set("gate", "BTC_USDT", "abc-7")

	e.cleanPair(context.Background(), testPair("gate", "BTC_USDT"))

	assert.Equal(t, []string{"abc-7"}, v.cancelled)
	assert.Equal(t, 1, v.cancelAll)
	assert.Equal(t, "", e.Tracked("gate", "BTC_USDT"))
}

func TestCleanPair_RulesFailureStillSweeps(t *testing.T) {
	v := newCycleVenue("gate")
	v.rulesErr = errors.New("rules endpoint down")
	e := newTestEngine(&fakeParams{}, &recordingNotifier{}, nil, v)

	e.cleanPair(context.Background(), testPair("gate", "BTC_USDT"))

	assert.Equal(t, 1, v.cancelAll)
}

func TestRun_ShutdownFlagHoldsStandby(t *testing.T) {
	v := newCycleVenue("gate")
	p := &fakeParams{shutdown: true, pairs: []store.PairConfig{testPair("gate", "BTC_USDT")}}
	e := newTestEngine(p, &recordingNotifier{}, nil, v)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, v.placeCalls)
}

func TestPoolSize(t *testing.T) {
	assert.Equal(t, 1, poolSize(0))
	assert.Equal(t, 2, poolSize(1))
	assert.Equal(t, 6, poolSize(3))
	assert.Equal(t, 16, poolSize(8))
	assert.Equal(t, 16, poolSize(40))
}
