package amm

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/openperp/mmengine/internal/events"
	"github.com/openperp/mmengine/internal/pricing"
)

// MoveAMMPriceToOracle partially rotates the AMM price toward the oracle
// price: the candidate reserves preserve k but sit at
// spot + (oracle-spot)*adjustRatio. The move is applied only when the
// vault can absorb the market maker's unrealized loss at the candidate
// state; otherwise the reserves stay untouched and moved=false is returned.
// The full decision context is emitted as a MoveAMMPrice event either way.
// Owner-only.
func (e *Exchange) MoveAMMPriceToOracle(caller string, oraclePrice sdkmath.LegacyDec, key string) (bool, error) {
	if caller != e.cfg.Owner {
		return false, ErrNotOwner
	}
	if !e.open {
		return false, ErrMarketClosed
	}
	if key != e.cfg.OracleKey {
		return false, fmt.Errorf("%w: got %q, want %q", ErrInvalidPriceKey, key, e.cfg.OracleKey)
	}
	if oraclePrice.IsNil() || oraclePrice.IsZero() {
		return false, ErrZeroOracle
	}

	spot := e.reserves.SpotPrice()
	spread := spot.Sub(oraclePrice).Abs().Quo(spot)
	if spread.GT(e.cfg.OracleSpreadLimit) {
		return false, fmt.Errorf("%w: spread %s, limit %s", ErrOracleOutOfRange, spread, e.cfg.OracleSpreadLimit)
	}

	adjustPrice := spot.Add(oraclePrice.Sub(spot).Mul(e.cfg.PriceAdjustRatio))
	candidate, err := pricing.ReservesAtPrice(e.reserves, adjustPrice)
	if err != nil {
		return false, err
	}

	pnl, err := e.MMUnrealizedPNLAt(candidate)
	if err != nil {
		return false, err
	}
	available, err := e.liquidity.AvailableLiquidity(e.id)
	if err != nil {
		return false, fmt.Errorf("failed to query available liquidity: %w", err)
	}

	moved := !(pnl.IsNegative() && pnl.Abs().GT(available))
	if moved {
		e.commitReserves(candidate, sdkmath.LegacyZeroDec())
	}

	e.bus.Emit(events.MoveAMMPrice{
		Exchange:    e.id,
		AMMPrice:    spot,
		OraclePrice: oraclePrice,
		AdjustPrice: adjustPrice,
		MMLiquidity: available,
		MMPNL:       pnl,
		Moved:       moved,
	})
	e.log.Info().
		Str("amm_price", spot.String()).
		Str("oracle_price", oraclePrice.String()).
		Str("adjust_price", adjustPrice.String()).
		Str("mm_pnl", pnl.String()).
		Bool("moved", moved).
		Msg("Oracle convergence evaluated")
	return moved, nil
}

// SettleFunding advances the funding schedule and recomputes the funding
// rate from the current mark TWAP and oracle index TWAP. Counterparty-only.
// Inside the buffer window the schedule advances by one funding period;
// after a missed window it resets to now+buffer so the cadence recovers
// without drifting permanently.
func (e *Exchange) SettleFunding(caller string) (sdkmath.LegacyDec, error) {
	if caller != e.cfg.Counterparty {
		return sdkmath.LegacyDec{}, ErrNotCounterparty
	}
	if !e.open {
		return sdkmath.LegacyDec{}, ErrMarketClosed
	}

	now := e.clock.Now()
	if now.Before(e.funding.NextFundingTime) {
		return sdkmath.LegacyDec{}, ErrTooEarly
	}

	markTwap, err := e.history.TwapPrice(e.cfg.SpotPriceTwapInterval)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	indexTwap, err := e.feeder.GetTwapPrice(e.cfg.OracleKey, e.cfg.SpotPriceTwapInterval)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("failed to query oracle twap: %w", err)
	}
	if !indexTwap.IsPositive() {
		return sdkmath.LegacyDec{}, ErrZeroOracle
	}

	// Premium over one funding period as a fraction of a day, normalized by
	// the index price.
	periodFraction := sdkmath.LegacyNewDec(int64(e.funding.FundingPeriod.Seconds())).
		Quo(sdkmath.LegacyNewDec(86400))
	premiumFraction := markTwap.Sub(indexTwap).Mul(periodFraction)
	fundingRate := premiumFraction.Quo(indexTwap)

	bufferDeadline := e.funding.NextFundingTime.Add(e.funding.FundingBufferPeriod)
	if now.Before(bufferDeadline) {
		e.funding.NextFundingTime = e.funding.NextFundingTime.Add(e.funding.FundingPeriod)
	} else {
		e.funding.NextFundingTime = now.Add(e.funding.FundingBufferPeriod)
	}
	e.funding.FundingRate = fundingRate

	e.bus.Emit(events.FundingSettled{
		Exchange:        e.id,
		FundingRate:     fundingRate,
		PremiumFraction: premiumFraction,
		MarkTwap:        markTwap,
		IndexTwap:       indexTwap,
		NextFundingTime: e.funding.NextFundingTime,
	})
	e.log.Info().
		Str("funding_rate", fundingRate.String()).
		Time("next_funding_time", e.funding.NextFundingTime).
		Msg("Funding settled")
	return fundingRate, nil
}
