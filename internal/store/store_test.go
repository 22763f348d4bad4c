package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func testDefaults() Defaults {
	return Defaults{
		Exchange:     "gate",
		Pair:         "BTC_USDT",
		DeviationPct: decimal.RequireFromString("3.0"),
		Quote:        decimal.Zero,
		LotSizeBase:  decimal.Zero,
		GapMode:      "down_only",
		GapSwitchPct: decimal.RequireFromString("1.0"),
	}
}

func TestSeed_PopulatesEmptyTableOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Seed(ctx, testDefaults()))
	pairs, err := s.ActivePairs(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "gate", pairs[0].Exchange)
	assert.Equal(t, "BTC_USDT", pairs[0].Pair)
	assert.True(t, pairs[0].DeviationPct.Equal(decimal.RequireFromString("3.0")))
	assert.Equal(t, "down_only", pairs[0].GapMode)
	assert.True(t, pairs[0].Enabled)

	// A second seed must not add another slot.
	require.NoError(t, s.Seed(ctx, testDefaults()))
	pairs, err = s.ActivePairs(ctx)
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func TestReplacePairs_NormalizesAndOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.ReplacePairs(ctx, []PairConfig{
		{Exchange: " HTX ", Pair: "eth_usdt", DeviationPct: decimal.RequireFromString("2.5"), Enabled: true},
		{Pair: "BTC_USDT", GapMode: "SYMMETRIC", Enabled: true},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 1, got[0].Idx)
	assert.Equal(t, "htx", got[0].Exchange)
	assert.Equal(t, "ETH_USDT", got[0].Pair)
	assert.Equal(t, "down_only", got[0].GapMode)

	assert.Equal(t, 2, got[1].Idx)
	assert.Equal(t, "gate", got[1].Exchange)
	assert.Equal(t, "symmetric", got[1].GapMode)
}

func TestReplacePairs_RejectsBadPairAndOverflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ReplacePairs(ctx, []PairConfig{{Exchange: "gate", Pair: "BTC-USDT"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad pair")

	six := make([]PairConfig, 6)
	for i := range six {
		six[i] = PairConfig{Exchange: "gate", Pair: "A_B", Enabled: true}
	}
	_, err = s.ReplacePairs(ctx, six)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many pairs")
}

func TestReplacePairs_DedupesKeepingFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.ReplacePairs(ctx, []PairConfig{
		{Exchange: "gate", Pair: "BTC_USDT", DeviationPct: decimal.RequireFromString("3"), Enabled: true},
		{Exchange: "gate", Pair: "btc_usdt", DeviationPct: decimal.RequireFromString("9"), Enabled: true},
		{Exchange: "htx", Pair: "BTC_USDT", DeviationPct: decimal.RequireFromString("4"), Enabled: true},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].DeviationPct.Equal(decimal.RequireFromString("3")))
	assert.Equal(t, "htx", got[1].Exchange)
}

func TestSetPairEnabled_FiltersActiveSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ReplacePairs(ctx, []PairConfig{
		{Exchange: "gate", Pair: "BTC_USDT", Enabled: true},
		{Exchange: "gate", Pair: "ETH_USDT", Enabled: true},
	})
	require.NoError(t, err)

	require.NoError(t, s.SetPairEnabled(ctx, "gate", "eth_usdt", false))

	active, err := s.ActivePairs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "BTC_USDT", active[0].Pair)

	all, err := s.AllPairs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	err = s.SetPairEnabled(ctx, "gate", "XRP_USDT", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such pair")
}

func TestPauseAndShutdownFlags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	paused, err := s.Paused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, s.SetPaused(ctx, true))
	paused, err = s.Paused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, s.SetPaused(ctx, false))
	paused, err = s.Paused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	down, err := s.Shutdown(ctx)
	require.NoError(t, err)
	assert.False(t, down)

	require.NoError(t, s.SetShutdown(ctx, true))
	down, err = s.Shutdown(ctx)
	require.NoError(t, err)
	assert.True(t, down)
}

func TestSettingsAndRuntimeRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.Setting(ctx, "report_period_min")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, s.SetSetting(ctx, "report_period_min", "15"))
	require.NoError(t, s.SetSetting(ctx, "report_period_min", "30"))
	v, err = s.Setting(ctx, "report_period_min")
	require.NoError(t, err)
	assert.Equal(t, "30", v)

	require.NoError(t, s.SetRuntime(ctx, "report_last_period_end", "1700000000"))
	v, err = s.Runtime(ctx, "report_last_period_end")
	require.NoError(t, err)
	assert.Equal(t, "1700000000", v)
}

func TestEnsureSchema_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
}
