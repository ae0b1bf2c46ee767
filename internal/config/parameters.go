/*

This file contains the default economic parameters for a market.

These values mirror a conservative mainline perpetual-market configuration.
Each market may be launched with its own ExchangeConfig; this default is the
baseline when no explicit parameter set is supplied.

*/

package config

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/openperp/mmengine/internal/types"
)

// DefaultExchangeConfig returns the baseline parameter set for a market.
// Owner, Counterparty and OracleKey must still be filled in by the caller.
func DefaultExchangeConfig() types.ExchangeConfig {
	return types.ExchangeConfig{
		// A single trade may deplete at most 90% of the reserve it drains.
		// Larger trades distort the curve beyond any meaningful quote.
		TradeLimitRatio: sdkmath.LegacyNewDecWithPrec(90, 2),

		// Spot price may move at most 1.2% per block around the block entry
		// price. Position-closing trades may breach this once per block.
		FluctuationLimitRatio: sdkmath.LegacyNewDecWithPrec(12, 3),

		// Each oracle convergence closes half of the spot-to-oracle gap,
		// so repeated calls approach the oracle asymptotically instead of
		// jumping.
		PriceAdjustRatio: sdkmath.LegacyNewDecWithPrec(5, 1),

		// Convergence is refused outright when spot and oracle diverge more
		// than 10%; a spread that wide signals a broken feed or an attack.
		OracleSpreadLimit: sdkmath.LegacyNewDecWithPrec(10, 2),

		// Hourly funding with a 15-minute settlement window.
		FundingPeriod:       time.Hour,
		FundingBufferPeriod: 15 * time.Minute,

		// Mark-price TWAP window for the funding-rate premium.
		SpotPriceTwapInterval: time.Hour,

		// LP deposits lock for a day; withdrawals pay a 0.5% fee that stays
		// in the pool.
		LpLockDuration:   24 * time.Hour,
		WithdrawFeeRatio: sdkmath.LegacyNewDecWithPrec(5, 3),

		// The High tranche backs the market maker with half its balance,
		// the Low tranche with a quarter.
		HighWeight: 500,
		LowWeight:  250,

		// Loss-exposure caps per tranche, in basis points of tranche
		// liquidity.
		HighMaxLossBps: 10000,
		LowMaxLossBps:  5000,
	}
}
