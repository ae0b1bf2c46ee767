/*

This file contains the core market types shared across the pricing engine:
trade directions, reserve state, the snapshot records the TWAP machinery is
built on, and the funding schedule.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// Direction describes a trade relative to the AMM's quote reserve.
// AddToAMM pushes quote asset into the pool, RemoveFromAMM pulls it out.
type Direction int

const (
	AddToAMM Direction = iota
	RemoveFromAMM
)

func (d Direction) String() string {
	if d == AddToAMM {
		return "ADD_TO_AMM"
	}
	return "REMOVE_FROM_AMM"
}

// Reserves holds the two balances defining the constant-product curve.
// Both must stay strictly positive; the product quote*base is the pool
// invariant k.
type Reserves struct {
	Quote sdkmath.LegacyDec `json:"quote_asset_reserve"`
	Base  sdkmath.LegacyDec `json:"base_asset_reserve"`
}

// K returns the constant-product invariant of the reserve pair.
func (r Reserves) K() sdkmath.LegacyDec {
	return r.Quote.Mul(r.Base)
}

// SpotPrice returns quote/base.
func (r Reserves) SpotPrice() sdkmath.LegacyDec {
	return r.Quote.Quo(r.Base)
}

// ReserveSnapshot is one entry of the append-only reserve history. At most
// one snapshot exists per block; a second write in the same block overwrites
// the first.
type ReserveSnapshot struct {
	Reserves
	// CumulativeNotional is the signed sum of quote flow through the AMM up
	// to and including this snapshot.
	CumulativeNotional sdkmath.LegacyDec `json:"cumulative_notional"`
	Timestamp          time.Time         `json:"timestamp"`
	BlockNumber        int64             `json:"block_number"`
}

// LiquidityChangedSnapshot records the reserve state right after a liquidity
// migration, together with the cumulative notional accrued since the previous
// migration. Index 0 is the genesis state of the market.
type LiquidityChangedSnapshot struct {
	Reserves
	CumulativeNotional sdkmath.LegacyDec `json:"cumulative_notional"`
	Timestamp          time.Time         `json:"timestamp"`
	BlockNumber        int64             `json:"block_number"`
}

// FundingSchedule tracks when the next funding settlement is due and the rate
// computed at the last settlement. NextFundingTime only ever moves forward.
type FundingSchedule struct {
	NextFundingTime     time.Time         `json:"next_funding_time"`
	FundingPeriod       time.Duration     `json:"funding_period"`
	FundingBufferPeriod time.Duration     `json:"funding_buffer_period"`
	FundingRate         sdkmath.LegacyDec `json:"funding_rate"`
}

// Tranche identifies one of the two risk pools of the liquidity vault.
type Tranche int

const (
	TrancheHigh Tranche = iota
	TrancheLow
)

func (t Tranche) String() string {
	if t == TrancheHigh {
		return "HIGH"
	}
	return "LOW"
}
