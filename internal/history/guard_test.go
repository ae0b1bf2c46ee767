package history_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/openperp/mmengine/internal/history"
)

func TestCheckFluctuationLimit_ZeroLimitDisables(t *testing.T) {
	err := history.CheckFluctuationLimit(dec("10"), dec("10"), dec("1000"), sdkmath.LegacyZeroDec(), false)
	require.NoError(t, err)
}

func TestCheckFluctuationLimit_Band(t *testing.T) {
	// 5% band around entry price 10: [9.5, 10.5].
	limit := dec("0.05")

	require.NoError(t, history.CheckFluctuationLimit(dec("10"), dec("10"), dec("10.49"), limit, false))
	require.NoError(t, history.CheckFluctuationLimit(dec("10"), dec("10"), dec("10.5"), limit, false))
	require.NoError(t, history.CheckFluctuationLimit(dec("10"), dec("10"), dec("9.5"), limit, false))

	err := history.CheckFluctuationLimit(dec("10"), dec("10"), dec("10.51"), limit, false)
	require.ErrorIs(t, err, history.ErrPriceFluctuation)

	err = history.CheckFluctuationLimit(dec("10"), dec("10"), dec("9.49"), limit, false)
	require.ErrorIs(t, err, history.ErrPriceFluctuation)
}

func TestCheckFluctuationLimit_OverrideLargeClose(t *testing.T) {
	limit := dec("0.05")

	// A single trade displacing the price by more than the limit, starting
	// inside the band, passes with the override.
	err := history.CheckFluctuationLimit(dec("10"), dec("10"), dec("11"), limit, true)
	require.NoError(t, err)

	// Without the override flag the same trade fails.
	err = history.CheckFluctuationLimit(dec("10"), dec("10"), dec("11"), limit, false)
	require.ErrorIs(t, err, history.ErrPriceFluctuation)
}

func TestCheckFluctuationLimit_OverrideRequiresOwnDisplacement(t *testing.T) {
	limit := dec("0.05")

	// Post price is out of band but this trade only moved it a little; the
	// override does not apply to small trades riding an earlier breach.
	err := history.CheckFluctuationLimit(dec("10"), dec("10.45"), dec("10.6"), limit, true)
	require.ErrorIs(t, err, history.ErrPriceFluctuation)
}

func TestCheckFluctuationLimit_OverrideOnlyFirstBreach(t *testing.T) {
	limit := dec("0.05")

	// Pre-trade price already outside the band: a later trade in the same
	// block cannot use the override even with a large displacement.
	err := history.CheckFluctuationLimit(dec("10"), dec("11"), dec("13"), limit, true)
	require.ErrorIs(t, err, history.ErrPriceFluctuation)
}
