package amm_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/openperp/mmengine/internal/amm"
	"github.com/openperp/mmengine/internal/chrono"
	"github.com/openperp/mmengine/internal/events"
	"github.com/openperp/mmengine/internal/history"
	"github.com/openperp/mmengine/internal/oracle"
	"github.com/openperp/mmengine/internal/types"
)

const (
	testExchange = "ubtc-uusdc"
	owner        = "owner"
	counterparty = "perp-contract"
)

func dec(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

// stubLiquidity is a fixed-amount vault stand-in.
type stubLiquidity struct {
	amount sdkmath.LegacyDec
}

func (s *stubLiquidity) AvailableLiquidity(exchange string) (sdkmath.LegacyDec, error) {
	return s.amount, nil
}

type fixture struct {
	exchange  *amm.Exchange
	clock     *chrono.ManualClock
	feeder    *oracle.StaticFeeder
	positions *amm.PositionBook
	liquidity *stubLiquidity
	recorder  *events.Recorder
	cfg       *types.ExchangeConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &types.ExchangeConfig{
		Owner:                 owner,
		Counterparty:          counterparty,
		OracleKey:             "ubtc",
		TradeLimitRatio:       dec("0.9"),
		FluctuationLimitRatio: sdkmath.LegacyZeroDec(),
		PriceAdjustRatio:      dec("0.5"),
		OracleSpreadLimit:     dec("0.1"),
		FundingPeriod:         time.Hour,
		FundingBufferPeriod:   15 * time.Minute,
		SpotPriceTwapInterval: time.Hour,
	}

	clock := chrono.NewManualClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	feeder := oracle.NewStaticFeeder()
	positions := amm.NewPositionBook()
	liquidity := &stubLiquidity{amount: dec("1000000")}
	recorder := events.NewRecorder(256)
	bus := events.NewBus(recorder)

	exchange, err := amm.NewExchange(
		testExchange, cfg, clock, feeder, positions, liquidity, bus,
		types.Reserves{Quote: dec("1000"), Base: dec("100")},
	)
	require.NoError(t, err)

	return &fixture{
		exchange:  exchange,
		clock:     clock,
		feeder:    feeder,
		positions: positions,
		liquidity: liquidity,
		recorder:  recorder,
		cfg:       cfg,
	}
}

func TestNewExchange_RejectsBadReserves(t *testing.T) {
	f := newFixture(t)
	_, err := amm.NewExchange(
		testExchange, f.cfg, f.clock, f.feeder, f.positions, f.liquidity,
		events.NewBus(), types.Reserves{Quote: sdkmath.LegacyZeroDec(), Base: dec("100")},
	)
	require.Error(t, err)
}

func TestSwapInput_AddQuote(t *testing.T) {
	f := newFixture(t)

	out, err := f.exchange.SwapInput(types.AddToAMM, dec("600"), sdkmath.LegacyZeroDec(), false)
	require.NoError(t, err)
	require.Equal(t, "37.500000000000000000", out.String())

	r := f.exchange.Reserves()
	require.Equal(t, "1600.000000000000000000", r.Quote.String())
	require.Equal(t, "62.500000000000000000", r.Base.String())

	require.Len(t, f.recorder.OfType("swap_input"), 1)
	require.Len(t, f.recorder.OfType("reserve_snapshotted"), 1)
}

func TestSwapInput_ZeroAmount(t *testing.T) {
	f := newFixture(t)
	_, err := f.exchange.SwapInput(types.AddToAMM, sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec(), false)
	require.ErrorIs(t, err, amm.ErrZeroInput)
}

func TestSwapInput_TradeLimitOnRemove(t *testing.T) {
	f := newFixture(t)

	// 95% of the quote reserve with a 90% trade limit.
	_, err := f.exchange.SwapInput(types.RemoveFromAMM, dec("950"), sdkmath.LegacyZeroDec(), false)
	require.ErrorIs(t, err, amm.ErrOverTradeLimit)

	// Adding quote is not bounded by the trade limit.
	_, err = f.exchange.SwapInput(types.AddToAMM, dec("950"), sdkmath.LegacyZeroDec(), false)
	require.NoError(t, err)
}

func TestSwapInput_SlippageBounds(t *testing.T) {
	f := newFixture(t)

	// Quoted output for ADD 600 is 37.5; a higher minimum fails.
	_, err := f.exchange.SwapInput(types.AddToAMM, dec("600"), dec("38"), false)
	require.ErrorIs(t, err, amm.ErrBelowMinOutput)

	// Quoted base in for REMOVE 500 is 100 (reserves (500,200) after); a
	// lower maximum fails, zero maximum skips the check.
	_, err = f.exchange.SwapInput(types.RemoveFromAMM, dec("500"), dec("50"), false)
	require.ErrorIs(t, err, amm.ErrAboveMaxOutput)

	_, err = f.exchange.SwapInput(types.RemoveFromAMM, dec("500"), sdkmath.LegacyZeroDec(), false)
	require.NoError(t, err)
}

func TestSwapOutput_RemoveBase(t *testing.T) {
	f := newFixture(t)

	out, err := f.exchange.SwapOutput(types.RemoveFromAMM, dec("50"), sdkmath.LegacyZeroDec(), false)
	require.NoError(t, err)
	require.Equal(t, "1000.000000000000000000", out.String())

	r := f.exchange.Reserves()
	require.Equal(t, "2000.000000000000000000", r.Quote.String())
	require.Equal(t, "50.000000000000000000", r.Base.String())
}

func TestSwap_FluctuationGuard(t *testing.T) {
	f := newFixture(t)
	f.cfg.FluctuationLimitRatio = dec("0.05")

	// Move to a fresh block so the genesis snapshot anchors the entry price.
	f.clock.NextBlock(time.Second)

	// Small trade inside the band.
	_, err := f.exchange.SwapInput(types.AddToAMM, dec("10"), sdkmath.LegacyZeroDec(), false)
	require.NoError(t, err)

	// Large trade breaches the band.
	_, err = f.exchange.SwapInput(types.AddToAMM, dec("500"), sdkmath.LegacyZeroDec(), false)
	require.ErrorIs(t, err, history.ErrPriceFluctuation)

	// The override admits the first breaching trade of the block.
	_, err = f.exchange.SwapInput(types.AddToAMM, dec("500"), sdkmath.LegacyZeroDec(), true)
	require.NoError(t, err)

	// A second breaching trade in the same block fails even with override.
	_, err = f.exchange.SwapInput(types.AddToAMM, dec("500"), sdkmath.LegacyZeroDec(), true)
	require.ErrorIs(t, err, history.ErrPriceFluctuation)
}

func TestSetCap(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.exchange.SetCap("stranger", dec("10"), dec("100")), amm.ErrNotOwner)

	require.NoError(t, f.exchange.SetCap(owner, dec("10"), dec("100")))
	require.Equal(t, "10.000000000000000000", f.exchange.MaxHoldingBaseAsset().String())
	require.Equal(t, "100.000000000000000000", f.exchange.OpenInterestNotionalCap().String())
	require.Len(t, f.recorder.OfType("cap_changed"), 1)
}

func TestMigrateLiquidity(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.exchange.MigrateLiquidity("stranger", dec("2"), sdkmath.LegacyZeroDec()), amm.ErrNotOwner)
	require.ErrorIs(t, f.exchange.MigrateLiquidity(owner, dec("1"), sdkmath.LegacyZeroDec()), amm.ErrInvalidMultiplier)
	require.ErrorIs(t, f.exchange.MigrateLiquidity(owner, sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec()), amm.ErrInvalidMultiplier)

	// Accrue some notional, then double the depth.
	_, err := f.exchange.SwapInput(types.AddToAMM, dec("600"), sdkmath.LegacyZeroDec(), false)
	require.NoError(t, err)
	prePrice := f.exchange.SpotPrice()

	require.NoError(t, f.exchange.MigrateLiquidity(owner, dec("2"), sdkmath.LegacyZeroDec()))

	r := f.exchange.Reserves()
	require.Equal(t, "3200.000000000000000000", r.Quote.String())
	require.Equal(t, "125.000000000000000000", r.Base.String())
	require.True(t, f.exchange.SpotPrice().Equal(prePrice))

	snaps := f.exchange.LiquidityChangedSnapshots()
	require.Len(t, snaps, 2)
	require.Equal(t, "600.000000000000000000", snaps[1].CumulativeNotional.String())
}

func TestMoveAMMPriceToOracle_Moves(t *testing.T) {
	f := newFixture(t)

	moved, err := f.exchange.MoveAMMPriceToOracle(owner, dec("10.4"), "ubtc")
	require.NoError(t, err)
	require.True(t, moved)

	// adjustPrice = 10 + (10.4-10)*0.5 = 10.2, reached up to sqrt precision.
	drift := f.exchange.SpotPrice().Sub(dec("10.2")).Abs()
	require.True(t, drift.LT(dec("0.000000001")), "spot price %s", f.exchange.SpotPrice())

	moveEvents := f.recorder.OfType("move_amm_price")
	require.Len(t, moveEvents, 1)
	require.True(t, moveEvents[0].(events.MoveAMMPrice).Moved)
}

func TestMoveAMMPriceToOracle_Gates(t *testing.T) {
	f := newFixture(t)

	_, err := f.exchange.MoveAMMPriceToOracle("stranger", dec("10.4"), "ubtc")
	require.ErrorIs(t, err, amm.ErrNotOwner)

	_, err = f.exchange.MoveAMMPriceToOracle(owner, dec("10.4"), "ueth")
	require.ErrorIs(t, err, amm.ErrInvalidPriceKey)

	_, err = f.exchange.MoveAMMPriceToOracle(owner, sdkmath.LegacyZeroDec(), "ubtc")
	require.ErrorIs(t, err, amm.ErrZeroOracle)

	// Spot 10 vs oracle 12 is a 20% spread with a 10% limit.
	_, err = f.exchange.MoveAMMPriceToOracle(owner, dec("12"), "ubtc")
	require.ErrorIs(t, err, amm.ErrOracleOutOfRange)
}

func TestMoveAMMPriceToOracle_HeldBackByInsolvency(t *testing.T) {
	f := newFixture(t)
	f.liquidity.amount = sdkmath.LegacyZeroDec()

	// A deeply underwater market-maker side: longs paid 100 for base worth
	// far more at the candidate reserves.
	f.positions.SetExposure(testExchange, amm.Exposure{
		LongBaseSize:      dec("50"),
		ShortBaseSize:     sdkmath.LegacyZeroDec(),
		LongOpenNotional:  dec("100"),
		ShortOpenNotional: sdkmath.LegacyZeroDec(),
	})

	before := f.exchange.Reserves()
	moved, err := f.exchange.MoveAMMPriceToOracle(owner, dec("10.4"), "ubtc")
	require.NoError(t, err)
	require.False(t, moved)
	require.True(t, f.exchange.Reserves().Quote.Equal(before.Quote))
	require.True(t, f.exchange.Reserves().Base.Equal(before.Base))

	moveEvents := f.recorder.OfType("move_amm_price")
	require.Len(t, moveEvents, 1)
	require.False(t, moveEvents[0].(events.MoveAMMPrice).Moved)
}

func TestSettleFunding_Schedule(t *testing.T) {
	f := newFixture(t)
	f.feeder.SetTwapPrice("ubtc", dec("10"))

	_, err := f.exchange.SettleFunding("stranger")
	require.ErrorIs(t, err, amm.ErrNotCounterparty)

	_, err = f.exchange.SettleFunding(counterparty)
	require.ErrorIs(t, err, amm.ErrTooEarly)

	first := f.exchange.FundingSchedule().NextFundingTime

	// Inside the buffer window: the schedule advances by one period.
	f.clock.NextBlock(first.Sub(f.clock.Now()) + time.Minute)
	rate, err := f.exchange.SettleFunding(counterparty)
	require.NoError(t, err)
	require.True(t, rate.IsZero())
	require.Equal(t, first.Add(time.Hour), f.exchange.FundingSchedule().NextFundingTime)

	// Missed window: the schedule resets to now plus the buffer.
	f.clock.NextBlock(5 * time.Hour)
	_, err = f.exchange.SettleFunding(counterparty)
	require.NoError(t, err)
	require.Equal(t, f.clock.Now().Add(15*time.Minute), f.exchange.FundingSchedule().NextFundingTime)

	require.Len(t, f.recorder.OfType("funding_settled"), 2)
}

func TestSettleFunding_RateSign(t *testing.T) {
	f := newFixture(t)

	// Mark above index: longs pay, positive rate.
	f.feeder.SetTwapPrice("ubtc", dec("8"))
	f.clock.NextBlock(2 * time.Hour)
	rate, err := f.exchange.SettleFunding(counterparty)
	require.NoError(t, err)
	require.True(t, rate.IsPositive())

	// Mark below index: negative rate.
	f.feeder.SetTwapPrice("ubtc", dec("12"))
	f.clock.NextBlock(2 * time.Hour)
	rate, err = f.exchange.SettleFunding(counterparty)
	require.NoError(t, err)
	require.True(t, rate.IsNegative())
}

func TestShutdown_Solvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.exchange.Shutdown("stranger")
	require.ErrorIs(t, err, amm.ErrNotOwner)

	settlement, err := f.exchange.Shutdown(owner)
	require.NoError(t, err)
	require.Equal(t, "10.000000000000000000", settlement.String())
	require.False(t, f.exchange.IsOpen())
	require.Equal(t, "10.000000000000000000", f.exchange.SettlementPrice().String())

	_, err = f.exchange.SwapInput(types.AddToAMM, dec("10"), sdkmath.LegacyZeroDec(), false)
	require.ErrorIs(t, err, amm.ErrMarketClosed)

	_, err = f.exchange.Shutdown(owner)
	require.ErrorIs(t, err, amm.ErrMarketClosed)

	require.Len(t, f.recorder.OfType("market_shutdown"), 1)
}

func TestShutdown_SolvesSettlementPrice(t *testing.T) {
	f := newFixture(t)
	f.liquidity.amount = dec("100")

	// Loss at the current reserves far exceeds the 100 available, so the
	// settlement price is solved down the curve until it fits.
	f.positions.SetExposure(testExchange, amm.Exposure{
		LongBaseSize:      dec("50"),
		ShortBaseSize:     sdkmath.LegacyZeroDec(),
		LongOpenNotional:  dec("100"),
		ShortOpenNotional: sdkmath.LegacyZeroDec(),
	})

	settlement, err := f.exchange.Shutdown(owner)
	require.NoError(t, err)
	require.True(t, settlement.IsPositive())
	require.True(t, settlement.LT(dec("10")))

	// At the frozen settlement reserves the loss matches the available
	// liquidity to within the bisection tolerance.
	pnl, err := f.exchange.MMUnrealizedPNL()
	require.NoError(t, err)
	drift := pnl.Neg().Sub(dec("100")).Abs()
	require.True(t, drift.LT(dec("0.000001")), "pnl %s", pnl)
}

func TestSettlementPrice_ZeroWhileOpen(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.exchange.SettlementPrice().IsZero())
}
