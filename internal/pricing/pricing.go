/*

Pure constant-product pricing over 18-decimal fixed point. These functions
are reserve-parameterized and side-effect free so they can be evaluated
against live reserves, historical snapshots and candidate reserve states
alike.

Rounding policy: whenever the exact rational result of a trade is not
representable at 18 fractional digits, the minimal-unit remainder is rounded
in the AMM's favor. Both formulas recompute the depleting-side reserve as
ceil(k / newOtherReserve), so the pool invariant k never decreases across an
indivisible trade and the counterparty never profits from truncation.

*/

package pricing

import (
	"errors"

	sdkmath "cosmossdk.io/math"

	"github.com/openperp/mmengine/internal/types"
)

var (
	// ErrQuoteExhausted means a trade would drain the quote reserve to or
	// below zero.
	ErrQuoteExhausted = errors.New("quote asset reserve exhausted")
	// ErrBaseExhausted means a trade would drain the base reserve to or
	// below zero.
	ErrBaseExhausted = errors.New("base asset reserve exhausted")
	// ErrInvalidReserves means a reserve argument was zero or negative.
	ErrInvalidReserves = errors.New("reserves must be positive")
)

// GetInputPrice quotes how much base asset a trade of quoteIn moves, against
// the given reserves. AddToAMM pays quote in and receives base out;
// RemoveFromAMM takes quote out and pays base in. A zero input quotes zero.
func GetInputPrice(dir types.Direction, quoteIn sdkmath.LegacyDec, reserves types.Reserves) (sdkmath.LegacyDec, error) {
	if err := validateReserves(reserves); err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if quoteIn.IsZero() {
		return sdkmath.LegacyZeroDec(), nil
	}

	var quoteAfter sdkmath.LegacyDec
	if dir == types.AddToAMM {
		quoteAfter = reserves.Quote.Add(quoteIn)
	} else {
		quoteAfter = reserves.Quote.Sub(quoteIn)
		if !quoteAfter.IsPositive() {
			return sdkmath.LegacyDec{}, ErrQuoteExhausted
		}
	}

	baseAfter := reserves.K().QuoRoundUp(quoteAfter)
	return reserves.Base.Sub(baseAfter).Abs(), nil
}

// GetOutputPrice quotes how much quote asset a trade of baseIn moves, against
// the given reserves. AddToAMM pays base in and receives quote out;
// RemoveFromAMM takes base out and pays quote in. A zero input quotes zero.
func GetOutputPrice(dir types.Direction, baseIn sdkmath.LegacyDec, reserves types.Reserves) (sdkmath.LegacyDec, error) {
	if err := validateReserves(reserves); err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if baseIn.IsZero() {
		return sdkmath.LegacyZeroDec(), nil
	}

	var baseAfter sdkmath.LegacyDec
	if dir == types.AddToAMM {
		baseAfter = reserves.Base.Add(baseIn)
	} else {
		baseAfter = reserves.Base.Sub(baseIn)
		if !baseAfter.IsPositive() {
			return sdkmath.LegacyDec{}, ErrBaseExhausted
		}
	}

	quoteAfter := reserves.K().QuoRoundUp(baseAfter)
	return reserves.Quote.Sub(quoteAfter).Abs(), nil
}

// ReservesAfterInput returns the reserve state after a swap-input trade. The
// base side is recomputed from the invariant under the rounding policy so the
// returned pair always satisfies k' >= k.
func ReservesAfterInput(dir types.Direction, quoteIn sdkmath.LegacyDec, reserves types.Reserves) (types.Reserves, error) {
	baseOut, err := GetInputPrice(dir, quoteIn, reserves)
	if err != nil {
		return types.Reserves{}, err
	}
	if dir == types.AddToAMM {
		return types.Reserves{
			Quote: reserves.Quote.Add(quoteIn),
			Base:  reserves.Base.Sub(baseOut),
		}, nil
	}
	return types.Reserves{
		Quote: reserves.Quote.Sub(quoteIn),
		Base:  reserves.Base.Add(baseOut),
	}, nil
}

// ReservesAfterOutput returns the reserve state after a swap-output trade.
func ReservesAfterOutput(dir types.Direction, baseIn sdkmath.LegacyDec, reserves types.Reserves) (types.Reserves, error) {
	quoteOut, err := GetOutputPrice(dir, baseIn, reserves)
	if err != nil {
		return types.Reserves{}, err
	}
	if dir == types.AddToAMM {
		return types.Reserves{
			Quote: reserves.Quote.Sub(quoteOut),
			Base:  reserves.Base.Add(baseIn),
		}, nil
	}
	return types.Reserves{
		Quote: reserves.Quote.Add(quoteOut),
		Base:  reserves.Base.Sub(baseIn),
	}, nil
}

// ReservesAtPrice rotates the reserve pair along its own constant-product
// curve to the target spot price: quote' = sqrt(k*p), base' = sqrt(k/p).
func ReservesAtPrice(reserves types.Reserves, price sdkmath.LegacyDec) (types.Reserves, error) {
	if err := validateReserves(reserves); err != nil {
		return types.Reserves{}, err
	}
	if !price.IsPositive() {
		return types.Reserves{}, errors.New("target price must be positive")
	}

	k := reserves.K()
	quote, err := k.Mul(price).ApproxSqrt()
	if err != nil {
		return types.Reserves{}, err
	}
	base, err := k.Quo(price).ApproxSqrt()
	if err != nil {
		return types.Reserves{}, err
	}
	return types.Reserves{Quote: quote, Base: base}, nil
}

func validateReserves(r types.Reserves) error {
	if r.Quote.IsNil() || r.Base.IsNil() || !r.Quote.IsPositive() || !r.Base.IsPositive() {
		return ErrInvalidReserves
	}
	return nil
}
