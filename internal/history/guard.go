/*

Per-block price-fluctuation guard. Every trade in a block validates its
post-trade price against the one reference price of that block (the block
entry price), so a sequence of small trades cannot walk the price out of the
band any further than a single trade could.

*/

package history

import (
	"errors"

	sdkmath "cosmossdk.io/math"
)

// ErrPriceFluctuation means a trade would move the spot price beyond the
// per-block fluctuation band.
var ErrPriceFluctuation = errors.New("price is over fluctuation limit")

// CheckFluctuationLimit validates postTradePrice against the band
// entryPrice*(1±limit). A zero limit disables the guard.
//
// allowOverride serves position-closing trades whose size is not up to the
// caller: the breach is tolerated only when the trade's own isolated
// displacement (pre vs post price) already exceeds the limit AND the
// pre-trade price was still inside the band. Only the first breaching trade
// of a block can pass; any later trade starts outside the band and fails.
func CheckFluctuationLimit(entryPrice, preTradePrice, postTradePrice, limit sdkmath.LegacyDec, allowOverride bool) error {
	if limit.IsZero() {
		return nil
	}

	one := sdkmath.LegacyOneDec()
	upper := entryPrice.Mul(one.Add(limit))
	lower := entryPrice.Mul(one.Sub(limit))

	if withinBand(postTradePrice, lower, upper) {
		return nil
	}

	if allowOverride && withinBand(preTradePrice, lower, upper) {
		displacement := postTradePrice.Sub(preTradePrice).Abs().Quo(preTradePrice)
		if displacement.GT(limit) {
			return nil
		}
	}

	return ErrPriceFluctuation
}

func withinBand(price, lower, upper sdkmath.LegacyDec) bool {
	return price.GTE(lower) && price.LTE(upper)
}
