/*

Bad-debt waterfall, expressed as a pure function over capacities so it can
be unit-tested without any vault state: insurance treasury first, then the
tranches split the remainder by weight, each capped at its own liquidity,
with excess reassigned to the other tranche's remaining capacity.

*/

package vault

import (
	"errors"

	sdkmath "cosmossdk.io/math"
)

// ErrBankrupt means the treasury and both tranches combined cannot absorb
// the bad debt; the whole resolution fails and nothing is drawn.
var ErrBankrupt = errors.New("insurance fund and tranches exhausted")

// BadDebtResolution is the planned draw of one bad-debt resolution. The
// three components are non-negative and sum exactly to the resolved amount.
type BadDebtResolution struct {
	Insurance sdkmath.LegacyDec
	High      sdkmath.LegacyDec
	Low       sdkmath.LegacyDec
}

// PlanBadDebt computes the waterfall allocation for demand against the
// insurance balance and the two tranche capacities, without mutating
// anything.
func PlanBadDebt(insuranceBalance, highCapacity, lowCapacity sdkmath.LegacyDec, highWeight, lowWeight uint32, demand sdkmath.LegacyDec) (BadDebtResolution, error) {
	zero := sdkmath.LegacyZeroDec()
	plan := BadDebtResolution{Insurance: zero, High: zero, Low: zero}

	// Pass 1: the insurance treasury absorbs what it can.
	plan.Insurance = sdkmath.LegacyMinDec(insuranceBalance, demand)
	remainder := demand.Sub(plan.Insurance)
	if remainder.IsZero() {
		return plan, nil
	}

	// Pass 2: weight-proportional split, capped per tranche.
	weightSum := sdkmath.LegacyNewDec(int64(highWeight) + int64(lowWeight))
	if weightSum.IsZero() {
		return BadDebtResolution{}, ErrBankrupt
	}
	highDemand := remainder.Mul(sdkmath.LegacyNewDec(int64(highWeight))).Quo(weightSum)
	lowDemand := remainder.Sub(highDemand)

	plan.High = sdkmath.LegacyMinDec(highDemand, highCapacity)
	plan.Low = sdkmath.LegacyMinDec(lowDemand, lowCapacity)

	// Reassign what one tranche could not cover to the other's remaining
	// capacity.
	leftover := remainder.Sub(plan.High).Sub(plan.Low)
	if leftover.IsPositive() {
		spare := highCapacity.Sub(plan.High)
		take := sdkmath.LegacyMinDec(leftover, spare)
		plan.High = plan.High.Add(take)
		leftover = leftover.Sub(take)
	}
	if leftover.IsPositive() {
		spare := lowCapacity.Sub(plan.Low)
		take := sdkmath.LegacyMinDec(leftover, spare)
		plan.Low = plan.Low.Add(take)
		leftover = leftover.Sub(take)
	}
	if leftover.IsPositive() {
		return BadDebtResolution{}, ErrBankrupt
	}
	return plan, nil
}

// AllocatePNL splits total PNL across the two tranches proportional to each
// tranche's weight-scaled liquidity, clamping a tranche's allocated loss at
// its own total liquidity. A zero weighted aggregate allocates nothing.
func AllocatePNL(total, highLiquidity, lowLiquidity sdkmath.LegacyDec, highWeight, lowWeight uint32) (high, low sdkmath.LegacyDec) {
	zero := sdkmath.LegacyZeroDec()
	highWeighted := highLiquidity.MulInt64(int64(highWeight))
	lowWeighted := lowLiquidity.MulInt64(int64(lowWeight))
	denom := highWeighted.Add(lowWeighted)
	if !denom.IsPositive() {
		return zero, zero
	}

	high = total.Mul(highWeighted).Quo(denom)
	low = total.Mul(lowWeighted).Quo(denom)
	if high.IsNegative() && high.Abs().GT(highLiquidity) {
		high = highLiquidity.Neg()
	}
	if low.IsNegative() && low.Abs().GT(lowLiquidity) {
		low = lowLiquidity.Neg()
	}
	return high, low
}
