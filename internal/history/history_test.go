package history_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/openperp/mmengine/internal/chrono"
	"github.com/openperp/mmengine/internal/history"
	"github.com/openperp/mmengine/internal/types"
)

func dec(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

func reserves(quote, base string) types.Reserves {
	return types.Reserves{Quote: dec(quote), Base: dec(base)}
}

func newHistory(t *testing.T) (*history.SnapshotHistory, *chrono.ManualClock) {
	t.Helper()
	clock := chrono.NewManualClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	return history.New(clock, reserves("1000", "100")), clock
}

func TestNew_SeedsGenesisSnapshot(t *testing.T) {
	h, _ := newHistory(t)
	require.Equal(t, 1, h.Len())
	require.Equal(t, "10.000000000000000000", h.SpotPrice().String())
	require.True(t, h.CumulativeNotional().IsZero())
}

func TestAppend_SameBlockOverwrites(t *testing.T) {
	h, _ := newHistory(t)

	h.Append(reserves("1100", "91"), dec("100"))
	require.Equal(t, 1, h.Len())
	require.Equal(t, "1100.000000000000000000", h.Latest().Quote.String())
	require.Equal(t, "100.000000000000000000", h.CumulativeNotional().String())

	h.Append(reserves("1200", "84"), dec("100"))
	require.Equal(t, 1, h.Len())
	require.Equal(t, "200.000000000000000000", h.CumulativeNotional().String())
}

func TestAppend_NewBlockAppends(t *testing.T) {
	h, clock := newHistory(t)

	clock.NextBlock(time.Second)
	h.Append(reserves("1100", "91"), dec("100"))
	require.Equal(t, 2, h.Len())
}

func TestBlockEntryPrice_IgnoresCurrentBlock(t *testing.T) {
	h, clock := newHistory(t)

	clock.NextBlock(time.Second)
	h.Append(reserves("4000", "25"), dec("3000"))

	// Within the appending block, the entry price is still the price before
	// this block's trades.
	require.Equal(t, "10.000000000000000000", h.BlockEntryPrice().String())

	// One block later the appended snapshot becomes the reference.
	clock.NextBlock(time.Second)
	require.Equal(t, "160.000000000000000000", h.BlockEntryPrice().String())
}

func TestBlockEntryPrice_GenesisOnly(t *testing.T) {
	h, _ := newHistory(t)
	require.Equal(t, "10.000000000000000000", h.BlockEntryPrice().String())
}

func TestTwapPrice_ZeroIntervalIsSpot(t *testing.T) {
	h, clock := newHistory(t)
	clock.NextBlock(time.Second)
	h.Append(reserves("2000", "50"), dec("1000"))

	twap, err := h.TwapPrice(0)
	require.NoError(t, err)
	require.Equal(t, "40.000000000000000000", twap.String())
}

func TestTwapPrice_WeightsByDuration(t *testing.T) {
	h, clock := newHistory(t)

	// Price 10 for 60s, then price 40 for 30s, queried at the end.
	clock.NextBlock(60 * time.Second)
	h.Append(reserves("2000", "50"), dec("1000"))
	clock.Advance(30 * time.Second)

	twap, err := h.TwapPrice(90 * time.Second)
	require.NoError(t, err)
	// (40*30 + 10*60) / 90 = 20
	require.Equal(t, "20.000000000000000000", twap.String())
}

func TestTwapPrice_NewestSnapshotZeroWeightInOwnBlock(t *testing.T) {
	h, clock := newHistory(t)

	clock.NextBlock(60 * time.Second)
	h.Append(reserves("2000", "50"), dec("1000"))

	// Queried in the block that produced the newest snapshot, its own weight
	// is zero, so only the prior price counts.
	twap, err := h.TwapPrice(90 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "10.000000000000000000", twap.String())
}

func TestTwapPrice_ShortHistoryNormalizesByCoveredTime(t *testing.T) {
	h, clock := newHistory(t)

	clock.NextBlock(10 * time.Second)
	h.Append(reserves("2000", "50"), dec("1000"))
	clock.Advance(10 * time.Second)

	// Window is one hour but history only covers 20s: 10s at 10, 10s at 40.
	twap, err := h.TwapPrice(time.Hour)
	require.NoError(t, err)
	require.Equal(t, "25.000000000000000000", twap.String())
}

func TestTwapPrice_WindowEdgeSlicesStraddlingSnapshot(t *testing.T) {
	h, clock := newHistory(t)

	clock.NextBlock(100 * time.Second)
	h.Append(reserves("2000", "50"), dec("1000"))
	clock.Advance(30 * time.Second)

	// 60s window: 30s at 40, then 30s of the genesis price 10.
	twap, err := h.TwapPrice(60 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "25.000000000000000000", twap.String())
}

func TestInputTwap_ZeroInputIsZero(t *testing.T) {
	h, _ := newHistory(t)
	out, err := h.InputTwap(types.AddToAMM, sdkmath.LegacyZeroDec())
	require.NoError(t, err)
	require.True(t, out.IsZero())
}

func TestInputTwap_SingleSnapshotEqualsSpotQuote(t *testing.T) {
	h, clock := newHistory(t)
	clock.Advance(time.Minute)

	out, err := h.InputTwap(types.AddToAMM, dec("50"))
	require.NoError(t, err)
	require.Equal(t, "4.761904761904761904", out.String())
}

func TestOutputTwap_SingleSnapshotEqualsSpotQuote(t *testing.T) {
	h, clock := newHistory(t)
	clock.Advance(time.Minute)

	out, err := h.OutputTwap(types.AddToAMM, dec("25"))
	require.NoError(t, err)
	require.Equal(t, "200.000000000000000000", out.String())
}
