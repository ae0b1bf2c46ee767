package amm

import (
	sdkmath "cosmossdk.io/math"
)

// Exposure is the aggregate open trader exposure of one market, tracked by
// the counterparty contract and read here when valuing the market maker's
// side. All four fields are non-negative.
type Exposure struct {
	// LongBaseSize and ShortBaseSize are the summed base-asset sizes of all
	// open long and short positions.
	LongBaseSize  sdkmath.LegacyDec
	ShortBaseSize sdkmath.LegacyDec
	// LongOpenNotional and ShortOpenNotional are the quote amounts those
	// positions were opened at.
	LongOpenNotional  sdkmath.LegacyDec
	ShortOpenNotional sdkmath.LegacyDec
}

// ZeroExposure returns an exposure with all legs at zero.
func ZeroExposure() Exposure {
	zero := sdkmath.LegacyZeroDec()
	return Exposure{
		LongBaseSize:      zero,
		ShortBaseSize:     zero,
		LongOpenNotional:  zero,
		ShortOpenNotional: zero,
	}
}

// PositionSource is the read-only view of the counterparty contract's
// position bookkeeping. The exchange never mutates it.
type PositionSource interface {
	OpenExposure(exchange string) (Exposure, error)
}

// LiquiditySource is the read-only view of the vault's weight-scaled
// available liquidity. Injected at construction to avoid a bidirectional
// object reference between the exchange and the vault.
type LiquiditySource interface {
	AvailableLiquidity(exchange string) (sdkmath.LegacyDec, error)
}
