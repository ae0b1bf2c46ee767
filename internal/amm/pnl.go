package amm

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/openperp/mmengine/internal/pricing"
	"github.com/openperp/mmengine/internal/types"
)

// MMUnrealizedPNLAt values the market maker's counterparty position against
// candidate reserves: the gain or loss the AMM would realize if all open
// trader exposure were closed at those reserves. Both sides are valued at
// the same candidate state. Pure; does not touch the live reserves.
func (e *Exchange) MMUnrealizedPNLAt(candidate types.Reserves) (sdkmath.LegacyDec, error) {
	exposure, err := e.positions.OpenExposure(e.id)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("failed to read open exposure: %w", err)
	}

	pnl := sdkmath.LegacyZeroDec()

	// Longs close by selling their base back to the AMM; the AMM keeps the
	// difference between what they paid in and what it pays out.
	if !exposure.LongBaseSize.IsNil() && exposure.LongBaseSize.IsPositive() {
		closeLong, err := pricing.GetOutputPrice(types.AddToAMM, exposure.LongBaseSize, candidate)
		if err != nil {
			return sdkmath.LegacyDec{}, err
		}
		pnl = pnl.Add(exposure.LongOpenNotional.Sub(closeLong))
	}

	// Shorts close by buying their base back from the AMM.
	if !exposure.ShortBaseSize.IsNil() && exposure.ShortBaseSize.IsPositive() {
		closeShort, err := pricing.GetOutputPrice(types.RemoveFromAMM, exposure.ShortBaseSize, candidate)
		if err != nil {
			return sdkmath.LegacyDec{}, err
		}
		pnl = pnl.Add(closeShort.Sub(exposure.ShortOpenNotional))
	}

	return pnl, nil
}

// MMUnrealizedPNL values the market maker's position at the live reserves,
// or at the frozen settlement reserves once the market is shut down. This is
// the number the vault allocates across its tranches.
func (e *Exchange) MMUnrealizedPNL() (sdkmath.LegacyDec, error) {
	reserves := e.reserves
	if !e.open && e.settlementPrice.IsPositive() {
		settled, err := pricing.ReservesAtPrice(e.reserves, e.settlementPrice)
		if err != nil {
			return sdkmath.LegacyDec{}, err
		}
		reserves = settled
	}
	return e.MMUnrealizedPNLAt(reserves)
}
