/*

ExchangeConfig is the full economic parameter surface of one market. It is an
explicit struct handed to the exchange and vault constructors rather than
ambient package state, so unit tests can run several markets with independent
configurations side by side.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// WeightDenominator scales tranche liquidity weights: a weight of 1000 means
// the full tranche balance counts toward available liquidity.
const WeightDenominator = 1000

// MaxLossDenominator scales per-tranche max-loss caps, expressed in basis
// points.
const MaxLossDenominator = 10000

// ExchangeConfig collects every owner-settable parameter of a market.
type ExchangeConfig struct {
	// Owner may migrate liquidity, move price to the oracle, change caps and
	// shut the market down. Counterparty is the registered perpetual-position
	// contract allowed to settle funding, stage liquidity, realize bad debt
	// and withdraw vault funds.
	Owner        string
	Counterparty string

	// OracleKey is the price key this market accepts from the oracle feed.
	OracleKey string

	// TradeLimitRatio caps a single trade to this fraction of the reserve it
	// depletes.
	TradeLimitRatio sdkmath.LegacyDec
	// FluctuationLimitRatio bounds the spot price per block around the block
	// entry price. Zero disables the guard.
	FluctuationLimitRatio sdkmath.LegacyDec
	// PriceAdjustRatio is the fraction of the spot-to-oracle gap closed by a
	// single MoveAMMPriceToOracle call.
	PriceAdjustRatio sdkmath.LegacyDec
	// OracleSpreadLimit rejects oracle convergence when the relative spread
	// between spot and oracle exceeds it.
	OracleSpreadLimit sdkmath.LegacyDec

	FundingPeriod       time.Duration
	FundingBufferPeriod time.Duration
	// SpotPriceTwapInterval is the mark-price TWAP window used when the
	// funding rate is recomputed.
	SpotPriceTwapInterval time.Duration

	// LpLockDuration is the withdrawal lock applied to fresh LP deposits.
	LpLockDuration time.Duration
	// WithdrawFeeRatio is withheld from LP withdrawals and left in the pool.
	WithdrawFeeRatio sdkmath.LegacyDec

	// Tranche weights out of WeightDenominator. At least one must be nonzero.
	HighWeight uint32
	LowWeight  uint32
	// Per-tranche max-loss caps in basis points out of MaxLossDenominator.
	HighMaxLossBps uint32
	LowMaxLossBps  uint32
}

// Weight returns the configured weight for the given tranche.
func (c *ExchangeConfig) Weight(t Tranche) uint32 {
	if t == TrancheHigh {
		return c.HighWeight
	}
	return c.LowWeight
}

// MaxLossBps returns the configured max-loss cap for the given tranche.
func (c *ExchangeConfig) MaxLossBps(t Tranche) uint32 {
	if t == TrancheHigh {
		return c.HighMaxLossBps
	}
	return c.LowMaxLossBps
}
