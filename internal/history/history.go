/*

SnapshotHistory is the append-only, block-deduplicated log of reserve states
the TWAP machinery operates on. It is an index-addressable growable array;
TWAP queries are backward scans from the newest entry, bounded by a maximum
lookback count.

*/

package history

import (
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/openperp/mmengine/internal/chrono"
	"github.com/openperp/mmengine/internal/pricing"
	"github.com/openperp/mmengine/internal/types"
)

// TwapAssetLookback is the fixed lookback window for input/output asset
// TWAP quotes.
const TwapAssetLookback = 15 * time.Minute

// maxTwapScan bounds how many snapshots a single TWAP walk may visit.
const maxTwapScan = 1440

// ErrEmptyHistory is returned by queries against a history with no entries.
var ErrEmptyHistory = errors.New("reserve snapshot history is empty")

// SnapshotHistory owns the reserve snapshot log of one market. It is not
// safe for concurrent use; the owning exchange serializes access.
type SnapshotHistory struct {
	clock     chrono.BlockClock
	snapshots []types.ReserveSnapshot
	// cumulativeNotional is the signed quote flow since genesis.
	cumulativeNotional sdkmath.LegacyDec
}

// New creates a history seeded with a genesis snapshot of the initial
// reserves.
func New(clock chrono.BlockClock, initial types.Reserves) *SnapshotHistory {
	h := &SnapshotHistory{
		clock:              clock,
		cumulativeNotional: sdkmath.LegacyZeroDec(),
	}
	h.snapshots = append(h.snapshots, types.ReserveSnapshot{
		Reserves:           initial,
		CumulativeNotional: h.cumulativeNotional,
		Timestamp:          clock.Now(),
		BlockNumber:        clock.BlockNumber(),
	})
	return h
}

// Append records a new reserve state, folding notionalDelta into the
// cumulative flow. A second append within the same block overwrites the
// block's snapshot so at most one entry exists per block.
func (h *SnapshotHistory) Append(reserves types.Reserves, notionalDelta sdkmath.LegacyDec) types.ReserveSnapshot {
	h.cumulativeNotional = h.cumulativeNotional.Add(notionalDelta)
	snapshot := types.ReserveSnapshot{
		Reserves:           reserves,
		CumulativeNotional: h.cumulativeNotional,
		Timestamp:          h.clock.Now(),
		BlockNumber:        h.clock.BlockNumber(),
	}

	last := len(h.snapshots) - 1
	if h.snapshots[last].BlockNumber == snapshot.BlockNumber {
		h.snapshots[last] = snapshot
	} else {
		h.snapshots = append(h.snapshots, snapshot)
	}
	return snapshot
}

// Latest returns the most recent snapshot.
func (h *SnapshotHistory) Latest() types.ReserveSnapshot {
	return h.snapshots[len(h.snapshots)-1]
}

// Len returns the number of snapshots recorded.
func (h *SnapshotHistory) Len() int {
	return len(h.snapshots)
}

// At returns the i-th snapshot, oldest first.
func (h *SnapshotHistory) At(i int) types.ReserveSnapshot {
	return h.snapshots[i]
}

// CumulativeNotional returns the signed quote flow accumulated since genesis.
func (h *SnapshotHistory) CumulativeNotional() sdkmath.LegacyDec {
	return h.cumulativeNotional
}

// SpotPrice returns quote/base of the latest snapshot.
func (h *SnapshotHistory) SpotPrice() sdkmath.LegacyDec {
	return h.Latest().SpotPrice()
}

// BlockEntryPrice returns the spot price as of the first snapshot of the
// current block: the price of the latest snapshot taken strictly before this
// block, or the oldest snapshot if the whole history is in the current block.
// Trades within a block all validate against this one reference price.
func (h *SnapshotHistory) BlockEntryPrice() sdkmath.LegacyDec {
	current := h.clock.BlockNumber()
	for i := len(h.snapshots) - 1; i > 0; i-- {
		if h.snapshots[i].BlockNumber < current {
			return h.snapshots[i].SpotPrice()
		}
	}
	return h.snapshots[0].SpotPrice()
}

// TwapPrice returns the time-weighted average spot price over
// [now-interval, now]. A zero interval returns the spot price directly. If
// the history covers less than the interval, the average is normalized by
// the covered duration instead.
func (h *SnapshotHistory) TwapPrice(interval time.Duration) (sdkmath.LegacyDec, error) {
	return h.calcTwap(interval, func(s types.ReserveSnapshot) (sdkmath.LegacyDec, error) {
		return s.SpotPrice(), nil
	})
}

// InputTwap returns the time-weighted average base-asset output a swap-input
// trade of quoteIn would have produced over the fixed asset lookback window.
// A zero input returns zero regardless of weighting.
func (h *SnapshotHistory) InputTwap(dir types.Direction, quoteIn sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if quoteIn.IsZero() {
		return sdkmath.LegacyZeroDec(), nil
	}
	return h.calcTwap(TwapAssetLookback, func(s types.ReserveSnapshot) (sdkmath.LegacyDec, error) {
		return pricing.GetInputPrice(dir, quoteIn, s.Reserves)
	})
}

// OutputTwap returns the time-weighted average quote-asset output a
// swap-output trade of baseIn would have produced over the fixed asset
// lookback window. A zero input returns zero regardless of weighting.
func (h *SnapshotHistory) OutputTwap(dir types.Direction, baseIn sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if baseIn.IsZero() {
		return sdkmath.LegacyZeroDec(), nil
	}
	return h.calcTwap(TwapAssetLookback, func(s types.ReserveSnapshot) (sdkmath.LegacyDec, error) {
		return pricing.GetOutputPrice(dir, baseIn, s.Reserves)
	})
}

// calcTwap walks snapshots newest to oldest, weighting each snapshot's quote
// by the portion of its active duration inside the window. The newest
// snapshot is weighted by its age relative to now, which is zero when the
// query runs in the block that produced it.
func (h *SnapshotHistory) calcTwap(interval time.Duration, quoteOf func(types.ReserveSnapshot) (sdkmath.LegacyDec, error)) (sdkmath.LegacyDec, error) {
	if len(h.snapshots) == 0 {
		return sdkmath.LegacyDec{}, ErrEmptyHistory
	}

	idx := len(h.snapshots) - 1
	current := h.snapshots[idx]
	currentQuote, err := quoteOf(current)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if interval <= 0 {
		return currentQuote, nil
	}

	now := h.clock.Now()
	baseTime := now.Add(-interval)
	// The whole window is covered by the latest snapshot.
	if !current.Timestamp.After(baseTime) {
		return currentQuote, nil
	}

	period := weightOf(now.Sub(current.Timestamp))
	weighted := currentQuote.Mul(period)
	previous := current.Timestamp

	for scanned := 0; scanned < maxTwapScan; scanned++ {
		if idx == 0 {
			// History shorter than the window: normalize by covered time.
			break
		}
		idx--
		snapshot := h.snapshots[idx]
		quote, err := quoteOf(snapshot)
		if err != nil {
			return sdkmath.LegacyDec{}, err
		}

		// This snapshot straddles the window edge; count only the inside
		// portion and stop.
		if !snapshot.Timestamp.After(baseTime) {
			slice := weightOf(previous.Sub(baseTime))
			weighted = weighted.Add(quote.Mul(slice))
			period = period.Add(slice)
			break
		}

		slice := weightOf(previous.Sub(snapshot.Timestamp))
		weighted = weighted.Add(quote.Mul(slice))
		period = period.Add(slice)
		previous = snapshot.Timestamp
	}

	if period.IsZero() {
		return currentQuote, nil
	}
	return weighted.Quo(period), nil
}

// weightOf converts a duration to a dimensionless decimal weight. The unit
// cancels in the final division, millisecond resolution keeps sub-second
// snapshot gaps meaningful.
func weightOf(d time.Duration) sdkmath.LegacyDec {
	if d < 0 {
		d = 0
	}
	return sdkmath.LegacyNewDec(d.Milliseconds())
}
