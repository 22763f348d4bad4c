package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDecidePrice_DiscountsPrevCloseByDefault(t *testing.T) {
	d, err := DecidePrice(dec("100"), dec("97"), GapOff, dec("1"), dec("3"), 1)
	require.NoError(t, err)

	assert.Equal(t, "97", d.Target.String())
	assert.Equal(t, "100", d.Reference.String())
	assert.Equal(t, "close_1m", d.Source)
	assert.Equal(t, "3", d.GapPct.String())
}

func TestDecidePrice_DownOnlySwitchesOnDump(t *testing.T) {
	// 2% below the previous close with a 1% switch threshold: price from
	// the live tick, not the stale candle.
	d, err := DecidePrice(dec("100"), dec("98"), GapDownOnly, dec("1"), dec("3"), 2)
	require.NoError(t, err)

	assert.Equal(t, "95.06", d.Target.String())
	assert.Equal(t, "98", d.Reference.String())
	assert.Equal(t, "last", d.Source)
	assert.Equal(t, "2", d.GapPct.String())
}

func TestDecidePrice_DownOnlyThresholdIsStrict(t *testing.T) {
	d, err := DecidePrice(dec("100"), dec("99"), GapDownOnly, dec("1"), dec("3"), 2)
	require.NoError(t, err)

	assert.Equal(t, "close_1m", d.Source)
	assert.Equal(t, "97", d.Target.String())
}

func TestDecidePrice_DownOnlyIgnoresPumps(t *testing.T) {
	d, err := DecidePrice(dec("100"), dec("110"), GapDownOnly, dec("1"), dec("3"), 2)
	require.NoError(t, err)

	assert.Equal(t, "close_1m", d.Source)
	assert.Equal(t, "-10", d.GapPct.String())
}

func TestDecidePrice_SymmetricSwitchesBothWays(t *testing.T) {
	up, err := DecidePrice(dec("100"), dec("102"), GapSymmetric, dec("1"), dec("3"), 2)
	require.NoError(t, err)
	assert.Equal(t, "last", up.Source)
	assert.Equal(t, "102", up.Reference.String())

	down, err := DecidePrice(dec("100"), dec("97"), GapSymmetric, dec("1"), dec("3"), 2)
	require.NoError(t, err)
	assert.Equal(t, "last", down.Source)

	flat, err := DecidePrice(dec("100"), dec("100.5"), GapSymmetric, dec("1"), dec("3"), 2)
	require.NoError(t, err)
	assert.Equal(t, "close_1m", flat.Source)
}

func TestDecidePrice_UnknownModeNeverSwitches(t *testing.T) {
	d, err := DecidePrice(dec("100"), dec("50"), "aggressive", dec("1"), dec("3"), 2)
	require.NoError(t, err)

	assert.Equal(t, "close_1m", d.Source)
	assert.Equal(t, "100", d.Reference.String())
}

func TestDecidePrice_ZeroPrevCloseFails(t *testing.T) {
	_, err := DecidePrice(decimal.Zero, dec("100"), GapOff, dec("1"), dec("3"), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not positive")
}

func TestDecidePrice_TargetTruncatedToZeroFails(t *testing.T) {
	// A sub-cent reference at 2 decimal places truncates to a zero target.
	_, err := DecidePrice(dec("0.004"), dec("0.004"), GapOff, dec("1"), dec("3"), 2)
	require.Error(t, err)
}

func TestDecidePrice_TruncatesNotRounds(t *testing.T) {
	// 33.5 * 0.97 = 32.495 -> 32.49, never the half-up 32.50.
	d, err := DecidePrice(dec("33.5"), dec("33.5"), GapOff, dec("1"), dec("3"), 2)
	require.NoError(t, err)

	assert.Equal(t, "32.49", d.Target.String())
}
