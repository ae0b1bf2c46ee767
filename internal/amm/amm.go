/*

Exchange is the virtual constant-product market maker of one perpetual
market. It owns the reserves, the snapshot history and the funding schedule,
and orchestrates swaps, liquidity migration, oracle convergence and
shutdown. Every mutating call either commits fully or leaves no trace:
validation and quoting happen first, state moves last.

The exchange is not internally synchronized; the host serializes calls, one
transition at a time, matching the one-block-one-reference-price model the
fluctuation guard depends on.

*/

package amm

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/openperp/mmengine/internal/chrono"
	"github.com/openperp/mmengine/internal/events"
	"github.com/openperp/mmengine/internal/history"
	"github.com/openperp/mmengine/internal/logger"
	"github.com/openperp/mmengine/internal/oracle"
	"github.com/openperp/mmengine/internal/pricing"
	"github.com/openperp/mmengine/internal/types"
)

var (
	// ErrMarketClosed means the market is not open for trading.
	ErrMarketClosed = errors.New("market is closed")
	// ErrZeroInput means a trade amount was zero or negative.
	ErrZeroInput = errors.New("input amount must be positive")
	// ErrOverTradeLimit means a single trade would deplete more of a reserve
	// than the trade-limit ratio allows.
	ErrOverTradeLimit = errors.New("trade exceeds trading limit ratio")
	// ErrBelowMinOutput means the quoted output fell below the caller's
	// minimum.
	ErrBelowMinOutput = errors.New("output is below the caller's minimum")
	// ErrAboveMaxOutput means the quoted amount exceeded the caller's
	// maximum.
	ErrAboveMaxOutput = errors.New("amount is above the caller's maximum")
	// ErrInvalidMultiplier rejects liquidity migration with multiplier 1 or
	// a non-positive multiplier.
	ErrInvalidMultiplier = errors.New("invalid liquidity multiplier")
	// ErrInvalidPriceKey means the oracle key does not match this market.
	ErrInvalidPriceKey = errors.New("oracle price key mismatch")
	// ErrZeroOracle rejects a zero oracle price.
	ErrZeroOracle = errors.New("oracle price is zero")
	// ErrOracleOutOfRange means the spot/oracle spread exceeds the limit.
	ErrOracleOutOfRange = errors.New("oracle price spread exceeds limit")
	// ErrTooEarly means funding settlement was attempted before its time.
	ErrTooEarly = errors.New("funding settlement too early")
	// ErrNotOwner gates owner-only operations.
	ErrNotOwner = errors.New("caller is not the owner")
	// ErrNotCounterparty gates counterparty-only operations.
	ErrNotCounterparty = errors.New("caller is not the registered counterparty")
)

// Exchange is one perpetual market's AMM core.
type Exchange struct {
	id     string
	cfg    *types.ExchangeConfig
	clock  chrono.BlockClock
	feeder oracle.PriceFeeder
	bus    *events.Bus
	log    zerolog.Logger

	positions PositionSource
	liquidity LiquiditySource

	open     bool
	reserves types.Reserves
	history  *history.SnapshotHistory
	funding  types.FundingSchedule

	// liquiditySnapshots[0] is the genesis state; later entries record each
	// migration together with the notional accrued since the previous one.
	liquiditySnapshots    []types.LiquidityChangedSnapshot
	lastMigrationNotional sdkmath.LegacyDec

	settlementPrice sdkmath.LegacyDec

	maxHoldingBaseAsset     sdkmath.LegacyDec
	openInterestNotionalCap sdkmath.LegacyDec
}

// NewExchange creates an open market with the given initial reserves. The
// first funding settlement is scheduled one funding period ahead, aligned to
// the period boundary.
func NewExchange(
	id string,
	cfg *types.ExchangeConfig,
	clock chrono.BlockClock,
	feeder oracle.PriceFeeder,
	positions PositionSource,
	liquidity LiquiditySource,
	bus *events.Bus,
	initial types.Reserves,
) (*Exchange, error) {
	if !initial.Quote.IsPositive() || !initial.Base.IsPositive() {
		return nil, pricing.ErrInvalidReserves
	}
	if cfg.FundingPeriod <= 0 {
		return nil, errors.New("funding period must be positive")
	}

	now := clock.Now()
	e := &Exchange{
		id:        id,
		cfg:       cfg,
		clock:     clock,
		feeder:    feeder,
		positions: positions,
		liquidity: liquidity,
		bus:       bus,
		log:       logger.GetForExchange("exchange", id),
		open:      true,
		reserves:  initial,
		history:   history.New(clock, initial),
		funding: types.FundingSchedule{
			NextFundingTime:     now.Truncate(cfg.FundingPeriod).Add(cfg.FundingPeriod),
			FundingPeriod:       cfg.FundingPeriod,
			FundingBufferPeriod: cfg.FundingBufferPeriod,
			FundingRate:         sdkmath.LegacyZeroDec(),
		},
		lastMigrationNotional:   sdkmath.LegacyZeroDec(),
		settlementPrice:         sdkmath.LegacyZeroDec(),
		maxHoldingBaseAsset:     sdkmath.LegacyZeroDec(),
		openInterestNotionalCap: sdkmath.LegacyZeroDec(),
	}
	e.liquiditySnapshots = append(e.liquiditySnapshots, types.LiquidityChangedSnapshot{
		Reserves:           initial,
		CumulativeNotional: sdkmath.LegacyZeroDec(),
		Timestamp:          now,
		BlockNumber:        clock.BlockNumber(),
	})
	return e, nil
}

// ID returns the market identifier.
func (e *Exchange) ID() string { return e.id }

// IsOpen reports whether the market accepts trades.
func (e *Exchange) IsOpen() bool { return e.open }

// Reserves returns the current reserve state.
func (e *Exchange) Reserves() types.Reserves { return e.reserves }

// SpotPrice returns the current quote/base price.
func (e *Exchange) SpotPrice() sdkmath.LegacyDec { return e.reserves.SpotPrice() }

// History exposes the snapshot history for TWAP queries.
func (e *Exchange) History() *history.SnapshotHistory { return e.history }

// FundingSchedule returns the current funding schedule.
func (e *Exchange) FundingSchedule() types.FundingSchedule { return e.funding }

// LiquidityChangedSnapshots returns the migration log, genesis first.
func (e *Exchange) LiquidityChangedSnapshots() []types.LiquidityChangedSnapshot {
	out := make([]types.LiquidityChangedSnapshot, len(e.liquiditySnapshots))
	copy(out, e.liquiditySnapshots)
	return out
}

// SwapInput trades quoteAmount of quote asset against the pool and returns
// the base-asset amount moved. baseLimit bounds slippage: on AddToAMM it is
// the minimum base out, on RemoveFromAMM the maximum base in (zero skips the
// maximum check). allowOverride lets an unavoidable position-closing trade
// breach the fluctuation band once per block.
func (e *Exchange) SwapInput(dir types.Direction, quoteAmount, baseLimit sdkmath.LegacyDec, allowOverride bool) (sdkmath.LegacyDec, error) {
	if !e.open {
		return sdkmath.LegacyDec{}, ErrMarketClosed
	}
	if quoteAmount.IsNil() || !quoteAmount.IsPositive() {
		return sdkmath.LegacyDec{}, ErrZeroInput
	}
	if dir == types.RemoveFromAMM && e.cfg.TradeLimitRatio.IsPositive() &&
		quoteAmount.GT(e.reserves.Quote.Mul(e.cfg.TradeLimitRatio)) {
		return sdkmath.LegacyDec{}, ErrOverTradeLimit
	}

	baseOut, err := pricing.GetInputPrice(dir, quoteAmount, e.reserves)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if dir == types.AddToAMM {
		if baseOut.LT(baseLimit) {
			return sdkmath.LegacyDec{}, fmt.Errorf("%w: got %s, want at least %s", ErrBelowMinOutput, baseOut, baseLimit)
		}
	} else if !baseLimit.IsZero() && baseOut.GT(baseLimit) {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: got %s, want at most %s", ErrAboveMaxOutput, baseOut, baseLimit)
	}

	var after types.Reserves
	var notionalDelta sdkmath.LegacyDec
	if dir == types.AddToAMM {
		after = types.Reserves{Quote: e.reserves.Quote.Add(quoteAmount), Base: e.reserves.Base.Sub(baseOut)}
		notionalDelta = quoteAmount
	} else {
		after = types.Reserves{Quote: e.reserves.Quote.Sub(quoteAmount), Base: e.reserves.Base.Add(baseOut)}
		notionalDelta = quoteAmount.Neg()
	}

	if err := e.checkFluctuation(after, allowOverride); err != nil {
		return sdkmath.LegacyDec{}, err
	}

	e.commitReserves(after, notionalDelta)
	e.bus.Emit(events.SwapInput{
		Exchange:         e.id,
		Dir:              dir.String(),
		QuoteAssetAmount: quoteAmount,
		BaseAssetAmount:  baseOut,
	})
	e.log.Debug().
		Str("dir", dir.String()).
		Str("quote_amount", quoteAmount.String()).
		Str("base_amount", baseOut.String()).
		Msg("Swap input executed")
	return baseOut, nil
}

// SwapOutput trades baseAmount of base asset against the pool and returns
// the quote-asset amount moved. quoteLimit bounds slippage: on AddToAMM it
// is the minimum quote out, on RemoveFromAMM the maximum quote in (zero
// skips the maximum check).
func (e *Exchange) SwapOutput(dir types.Direction, baseAmount, quoteLimit sdkmath.LegacyDec, allowOverride bool) (sdkmath.LegacyDec, error) {
	if !e.open {
		return sdkmath.LegacyDec{}, ErrMarketClosed
	}
	if baseAmount.IsNil() || !baseAmount.IsPositive() {
		return sdkmath.LegacyDec{}, ErrZeroInput
	}
	if dir == types.RemoveFromAMM && e.cfg.TradeLimitRatio.IsPositive() &&
		baseAmount.GT(e.reserves.Base.Mul(e.cfg.TradeLimitRatio)) {
		return sdkmath.LegacyDec{}, ErrOverTradeLimit
	}

	quoteOut, err := pricing.GetOutputPrice(dir, baseAmount, e.reserves)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if dir == types.AddToAMM {
		if quoteOut.LT(quoteLimit) {
			return sdkmath.LegacyDec{}, fmt.Errorf("%w: got %s, want at least %s", ErrBelowMinOutput, quoteOut, quoteLimit)
		}
	} else if !quoteLimit.IsZero() && quoteOut.GT(quoteLimit) {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: got %s, want at most %s", ErrAboveMaxOutput, quoteOut, quoteLimit)
	}

	var after types.Reserves
	var notionalDelta sdkmath.LegacyDec
	if dir == types.AddToAMM {
		after = types.Reserves{Quote: e.reserves.Quote.Sub(quoteOut), Base: e.reserves.Base.Add(baseAmount)}
		notionalDelta = quoteOut.Neg()
	} else {
		after = types.Reserves{Quote: e.reserves.Quote.Add(quoteOut), Base: e.reserves.Base.Sub(baseAmount)}
		notionalDelta = quoteOut
	}

	if err := e.checkFluctuation(after, allowOverride); err != nil {
		return sdkmath.LegacyDec{}, err
	}

	e.commitReserves(after, notionalDelta)
	e.bus.Emit(events.SwapOutput{
		Exchange:         e.id,
		Dir:              dir.String(),
		QuoteAssetAmount: quoteOut,
		BaseAssetAmount:  baseAmount,
	})
	e.log.Debug().
		Str("dir", dir.String()).
		Str("quote_amount", quoteOut.String()).
		Str("base_amount", baseAmount.String()).
		Msg("Swap output executed")
	return quoteOut, nil
}

// SetCap updates the market's holding caps; owner-only.
func (e *Exchange) SetCap(caller string, maxHoldingBaseAsset, openInterestNotionalCap sdkmath.LegacyDec) error {
	if caller != e.cfg.Owner {
		return ErrNotOwner
	}
	if maxHoldingBaseAsset.IsNegative() || openInterestNotionalCap.IsNegative() {
		return errors.New("caps must not be negative")
	}
	e.maxHoldingBaseAsset = maxHoldingBaseAsset
	e.openInterestNotionalCap = openInterestNotionalCap
	e.bus.Emit(events.CapChanged{
		Exchange:                e.id,
		MaxHoldingBaseAsset:     maxHoldingBaseAsset,
		OpenInterestNotionalCap: openInterestNotionalCap,
	})
	return nil
}

// MaxHoldingBaseAsset returns the per-trader base holding cap (zero = none).
func (e *Exchange) MaxHoldingBaseAsset() sdkmath.LegacyDec { return e.maxHoldingBaseAsset }

// OpenInterestNotionalCap returns the market's open-interest cap (zero = none).
func (e *Exchange) OpenInterestNotionalCap() sdkmath.LegacyDec { return e.openInterestNotionalCap }

func (e *Exchange) checkFluctuation(after types.Reserves, allowOverride bool) error {
	return history.CheckFluctuationLimit(
		e.history.BlockEntryPrice(),
		e.reserves.SpotPrice(),
		after.SpotPrice(),
		e.cfg.FluctuationLimitRatio,
		allowOverride,
	)
}

func (e *Exchange) commitReserves(after types.Reserves, notionalDelta sdkmath.LegacyDec) {
	e.reserves = after
	snapshot := e.history.Append(after, notionalDelta)
	e.bus.Emit(events.ReserveSnapshotted{
		Exchange:           e.id,
		QuoteAssetReserve:  snapshot.Quote,
		BaseAssetReserve:   snapshot.Base,
		CumulativeNotional: snapshot.CumulativeNotional,
		BlockNumber:        snapshot.BlockNumber,
	})
}
