package amm

import (
	sdkmath "cosmossdk.io/math"

	"github.com/openperp/mmengine/internal/events"
	"github.com/openperp/mmengine/internal/history"
	"github.com/openperp/mmengine/internal/types"
)

// MigrateLiquidity rescales both reserves by multiplier, changing market
// depth while preserving the spot price (k scales by multiplier squared).
// Owner-only. fluctuationAllowance bounds the residual price move the
// rescaling's fixed-point rounding may introduce, measured against the
// pre-migration price; zero disables the check.
//
// A LiquidityChangedSnapshot is appended carrying the cumulative notional
// accrued since the previous migration, and the accumulator restarts from
// this point.
func (e *Exchange) MigrateLiquidity(caller string, multiplier, fluctuationAllowance sdkmath.LegacyDec) error {
	if caller != e.cfg.Owner {
		return ErrNotOwner
	}
	if !e.open {
		return ErrMarketClosed
	}
	if multiplier.IsNil() || !multiplier.IsPositive() || multiplier.Equal(sdkmath.LegacyOneDec()) {
		return ErrInvalidMultiplier
	}

	prePrice := e.reserves.SpotPrice()
	after := types.Reserves{
		Quote: e.reserves.Quote.Mul(multiplier),
		Base:  e.reserves.Base.Mul(multiplier),
	}
	if err := history.CheckFluctuationLimit(prePrice, prePrice, after.SpotPrice(), fluctuationAllowance, false); err != nil {
		return err
	}

	accrued := e.history.CumulativeNotional().Sub(e.lastMigrationNotional)
	e.commitReserves(after, sdkmath.LegacyZeroDec())
	e.lastMigrationNotional = e.history.CumulativeNotional()
	e.liquiditySnapshots = append(e.liquiditySnapshots, types.LiquidityChangedSnapshot{
		Reserves:           after,
		CumulativeNotional: accrued,
		Timestamp:          e.clock.Now(),
		BlockNumber:        e.clock.BlockNumber(),
	})

	e.bus.Emit(events.LiquidityMigrated{
		Exchange:           e.id,
		Multiplier:         multiplier,
		QuoteAssetReserve:  after.Quote,
		BaseAssetReserve:   after.Base,
		CumulativeNotional: accrued,
	})
	e.log.Info().
		Str("multiplier", multiplier.String()).
		Str("quote_reserve", after.Quote.String()).
		Str("base_reserve", after.Base.String()).
		Msg("Liquidity migrated")
	return nil
}
