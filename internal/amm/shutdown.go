package amm

import (
	"errors"

	sdkmath "cosmossdk.io/math"

	"github.com/openperp/mmengine/internal/events"
	"github.com/openperp/mmengine/internal/pricing"
)

// settleBisections bounds the settlement-price search. 64 halvings of the
// bracket push its width far below one minimal unit.
const settleBisections = 64

// ErrSettlementUnsolvable means no price along the reserve curve brings the
// market maker's loss down to the vault's available liquidity.
var ErrSettlementUnsolvable = errors.New("settlement price not solvable within search range")

// Shutdown closes the market permanently; owner-only, one-way. The
// settlement price is the current spot price unless the vault's loss at the
// current reserves exceeds its available liquidity, in which case the price
// at which the loss equals exactly the available liquidity is solved on the
// k-preserving price curve. After shutdown the reserves are frozen and no
// further swaps are permitted.
func (e *Exchange) Shutdown(caller string) (sdkmath.LegacyDec, error) {
	if caller != e.cfg.Owner {
		return sdkmath.LegacyDec{}, ErrNotOwner
	}
	if !e.open {
		return sdkmath.LegacyDec{}, ErrMarketClosed
	}

	pnl, err := e.MMUnrealizedPNLAt(e.reserves)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	available, err := e.liquidity.AvailableLiquidity(e.id)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}

	settlement := e.reserves.SpotPrice()
	if pnl.IsNegative() && pnl.Abs().GT(available) {
		settlement, err = e.solveSettlementPrice(available)
		if err != nil {
			return sdkmath.LegacyDec{}, err
		}
	}

	e.open = false
	e.settlementPrice = settlement
	e.bus.Emit(events.MarketShutdown{Exchange: e.id, SettlementPrice: settlement})
	e.log.Warn().
		Str("settlement_price", settlement.String()).
		Msg("Market shut down")
	return settlement, nil
}

// SettlementPrice returns the frozen settlement price, or zero while the
// market is still open.
func (e *Exchange) SettlementPrice() sdkmath.LegacyDec {
	if e.open {
		return sdkmath.LegacyZeroDec()
	}
	return e.settlementPrice
}

// lossAt returns the market maker's loss magnitude (zero if in profit) were
// the reserves rotated to the given price.
func (e *Exchange) lossAt(price sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	candidate, err := pricing.ReservesAtPrice(e.reserves, price)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	pnl, err := e.MMUnrealizedPNLAt(candidate)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if pnl.IsNegative() {
		return pnl.Neg(), nil
	}
	return sdkmath.LegacyZeroDec(), nil
}

// solveSettlementPrice finds the price at which the loss curve crosses the
// available liquidity. The loss at the current spot price is known to exceed
// available; the bracket is grown geometrically away from spot in whichever
// direction reduces the loss, then bisected.
func (e *Exchange) solveSettlementPrice(available sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	spot := e.reserves.SpotPrice()
	half := sdkmath.LegacyNewDecWithPrec(5, 1)
	two := sdkmath.LegacyNewDec(2)

	solvent, err := e.findSolventBound(spot, half, available)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if solvent.IsNil() {
		solvent, err = e.findSolventBound(spot, two, available)
		if err != nil {
			return sdkmath.LegacyDec{}, err
		}
	}
	if solvent.IsNil() {
		return sdkmath.LegacyDec{}, ErrSettlementUnsolvable
	}

	// Invariant: loss(insolvent) > available >= loss(solvent).
	insolvent := spot
	for i := 0; i < settleBisections; i++ {
		mid := insolvent.Add(solvent).Quo(two)
		loss, err := e.lossAt(mid)
		if err != nil {
			return sdkmath.LegacyDec{}, err
		}
		if loss.GT(available) {
			insolvent = mid
		} else {
			solvent = mid
		}
	}
	return solvent, nil
}

// findSolventBound scales the price by factor until the loss there no longer
// exceeds available, returning a nil Dec when the direction never becomes
// solvent.
func (e *Exchange) findSolventBound(spot, factor, available sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	price := spot
	for i := 0; i < settleBisections; i++ {
		price = price.Mul(factor)
		if !price.IsPositive() {
			break
		}
		loss, err := e.lossAt(price)
		if err != nil {
			return sdkmath.LegacyDec{}, err
		}
		if loss.LTE(available) {
			return price, nil
		}
	}
	return sdkmath.LegacyDec{}, nil
}
