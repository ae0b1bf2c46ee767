package vault_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/openperp/mmengine/internal/chrono"
	"github.com/openperp/mmengine/internal/events"
	"github.com/openperp/mmengine/internal/types"
	"github.com/openperp/mmengine/internal/vault"
)

const (
	testExchange = "ubtc-uusdc"
	owner        = "owner"
	counterparty = "perp-contract"
	alice        = "alice"
	bob          = "bob"
)

// stubPnl is a fixed-value exchange stand-in.
type stubPnl struct {
	pnl  sdkmath.LegacyDec
	open bool
}

func (s *stubPnl) MMUnrealizedPNL() (sdkmath.LegacyDec, error) { return s.pnl, nil }
func (s *stubPnl) IsOpen() bool                                { return s.open }

type fixture struct {
	vault     *vault.RiskVault
	clock     *chrono.ManualClock
	pnl       *stubPnl
	insurance *vault.MemoryInsuranceFund
	recorder  *events.Recorder
	cfg       *types.ExchangeConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &types.ExchangeConfig{
		Owner:            owner,
		Counterparty:     counterparty,
		LpLockDuration:   24 * time.Hour,
		WithdrawFeeRatio: dec("0.005"),
		HighWeight:       500,
		LowWeight:        250,
		HighMaxLossBps:   10000,
		LowMaxLossBps:    5000,
	}

	clock := chrono.NewManualClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	pnl := &stubPnl{pnl: sdkmath.LegacyZeroDec(), open: true}
	insurance := vault.NewMemoryInsuranceFund()
	recorder := events.NewRecorder(256)

	v := vault.New(clock, events.NewBus(recorder))
	require.NoError(t, v.RegisterExchange(testExchange, cfg, pnl, insurance))

	return &fixture{vault: v, clock: clock, pnl: pnl, insurance: insurance, recorder: recorder, cfg: cfg}
}

func TestRegisterExchange_Validation(t *testing.T) {
	f := newFixture(t)

	err := f.vault.RegisterExchange(testExchange, f.cfg, f.pnl, f.insurance)
	require.Error(t, err)

	badCfg := *f.cfg
	badCfg.HighWeight = 0
	badCfg.LowWeight = 0
	err = f.vault.RegisterExchange("other", &badCfg, f.pnl, f.insurance)
	require.ErrorIs(t, err, vault.ErrInvalidWeight)
}

func TestAddLiquidity_MintsAtTokenPrice(t *testing.T) {
	f := newFixture(t)

	tokens, err := f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("1000"))
	require.NoError(t, err)
	require.Equal(t, "1000.000000000000000000", tokens.String())

	liquidity, supply, err := f.vault.TrancheLiquidity(testExchange, types.TrancheHigh)
	require.NoError(t, err)
	require.Equal(t, "1000.000000000000000000", liquidity.String())
	require.Equal(t, "1000.000000000000000000", supply.String())

	require.Len(t, f.recorder.OfType("liquidity_add"), 1)

	_, err = f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, sdkmath.LegacyZeroDec())
	require.ErrorIs(t, err, vault.ErrZeroInput)

	_, err = f.vault.AddLiquidity("unknown", types.TrancheHigh, alice, dec("1"))
	require.ErrorIs(t, err, vault.ErrUnknownExchange)
}

func TestAddLiquidity_LockRules(t *testing.T) {
	f := newFixture(t)
	start := f.clock.Now()

	// A deposit onto a zero balance starts a fresh lock.
	_, err := f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("100"))
	require.NoError(t, err)
	pos, err := f.vault.Position(testExchange, types.TrancheHigh, alice)
	require.NoError(t, err)
	require.Equal(t, start.Add(24*time.Hour), pos.NextWithdrawTime)

	// A deposit during the lock extends it from now.
	f.clock.Advance(6 * time.Hour)
	_, err = f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("100"))
	require.NoError(t, err)
	pos, _ = f.vault.Position(testExchange, types.TrancheHigh, alice)
	require.Equal(t, f.clock.Now().Add(24*time.Hour), pos.NextWithdrawTime)

	// Once the lock expired, a further deposit does not restart it.
	f.clock.Advance(25 * time.Hour)
	expired := pos.NextWithdrawTime
	_, err = f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("100"))
	require.NoError(t, err)
	pos, _ = f.vault.Position(testExchange, types.TrancheHigh, alice)
	require.Equal(t, expired, pos.NextWithdrawTime)
}

func TestRemoveLiquidity_FeeStaysInPool(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("1000"))
	require.NoError(t, err)

	// Still locked.
	_, err = f.vault.RemoveLiquidity(testExchange, types.TrancheHigh, alice, dec("1000"))
	require.ErrorIs(t, err, vault.ErrLocked)

	f.clock.Advance(25 * time.Hour)

	_, err = f.vault.RemoveLiquidity(testExchange, types.TrancheHigh, alice, dec("2000"))
	require.ErrorIs(t, err, vault.ErrInsufficientTokens)

	payout, err := f.vault.RemoveLiquidity(testExchange, types.TrancheHigh, alice, dec("1000"))
	require.NoError(t, err)
	require.Equal(t, "995.000000000000000000", payout.String())

	// The 0.5% fee remains as pool liquidity with the supply fully burned.
	liquidity, supply, err := f.vault.TrancheLiquidity(testExchange, types.TrancheHigh)
	require.NoError(t, err)
	require.Equal(t, "5.000000000000000000", liquidity.String())
	require.True(t, supply.IsZero())

	balance, err := f.vault.Balance(testExchange)
	require.NoError(t, err)
	require.Equal(t, "5.000000000000000000", balance.String())

	pos, err := f.vault.Position(testExchange, types.TrancheHigh, alice)
	require.NoError(t, err)
	require.Nil(t, pos)
}

func TestRemoveLiquidity_FullExitFloorsAtZero(t *testing.T) {
	cfg := &types.ExchangeConfig{
		Owner:            owner,
		Counterparty:     counterparty,
		LpLockDuration:   time.Hour,
		WithdrawFeeRatio: sdkmath.LegacyZeroDec(),
		HighWeight:       1000,
		LowWeight:        0,
		HighMaxLossBps:   10000,
		LowMaxLossBps:    5000,
	}
	clock := chrono.NewManualClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	pnl := &stubPnl{pnl: sdkmath.LegacyZeroDec(), open: true}
	v := vault.New(clock, events.NewBus(events.NewRecorder(16)))
	require.NoError(t, v.RegisterExchange(testExchange, cfg, pnl, vault.NewMemoryInsuranceFund()))

	_, err := v.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("3"))
	require.NoError(t, err)
	_, err = v.AddLiquidity(testExchange, types.TrancheLow, bob, dec("10"))
	require.NoError(t, err)

	// Draw 1 from the High tranche so its token price becomes 2/3, which
	// rounds half-even up to 0.666666666666666667.
	_, err = v.RealizeBadDebt(counterparty, testExchange, dec("1"))
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	// The full-supply exit grosses 3 * 0.666666666666666667, one minimal
	// unit above the 2 the tranche holds. Bob's Low deposit sits in the
	// same fund balance, so the payout clears and the tranche liquidity
	// must floor at zero rather than go negative.
	payout, err := v.RemoveLiquidity(testExchange, types.TrancheHigh, alice, dec("3"))
	require.NoError(t, err)
	require.Equal(t, "2.000000000000000001", payout.String())

	liquidity, supply, err := v.TrancheLiquidity(testExchange, types.TrancheHigh)
	require.NoError(t, err)
	require.False(t, liquidity.IsNegative())
	require.True(t, liquidity.IsZero())
	require.True(t, supply.IsZero())
}

func TestAvailableLiquidity_WeightScaled(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("10000"))
	require.NoError(t, err)
	_, err = f.vault.AddLiquidity(testExchange, types.TrancheLow, bob, dec("20000"))
	require.NoError(t, err)

	// 10000*0.5 + 20000*0.25
	available, err := f.vault.AvailableLiquidity(testExchange)
	require.NoError(t, err)
	require.Equal(t, "10000.000000000000000000", available.String())
}

func TestAddCachedLiquidity_FoldsIntoHighTranche(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("1000"))
	require.NoError(t, err)

	require.ErrorIs(t, f.vault.AddCachedLiquidity("stranger", testExchange, dec("100")), vault.ErrNotCounterparty)
	require.NoError(t, f.vault.AddCachedLiquidity(counterparty, testExchange, dec("100")))

	cached, err := f.vault.CachedLiquidity(testExchange)
	require.NoError(t, err)
	require.Equal(t, "100.000000000000000000", cached.String())

	// The fold happens with the next liquidity-modifying call and mints no
	// tokens: High liquidity grows by the staged amount plus the deposit,
	// supply only by the deposit's tokens.
	_, err = f.vault.AddLiquidity(testExchange, types.TrancheLow, bob, dec("50"))
	require.NoError(t, err)

	cached, _ = f.vault.CachedLiquidity(testExchange)
	require.True(t, cached.IsZero())

	liquidity, supply, err := f.vault.TrancheLiquidity(testExchange, types.TrancheHigh)
	require.NoError(t, err)
	require.Equal(t, "1100.000000000000000000", liquidity.String())
	require.Equal(t, "1000.000000000000000000", supply.String())
}

func TestRealizeBadDebt_Waterfall(t *testing.T) {
	f := newFixture(t)

	f.insurance.Deposit(testExchange, dec("100"))
	_, err := f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("1000"))
	require.NoError(t, err)
	_, err = f.vault.AddLiquidity(testExchange, types.TrancheLow, bob, dec("1000"))
	require.NoError(t, err)

	_, err = f.vault.RealizeBadDebt("stranger", testExchange, dec("400"))
	require.ErrorIs(t, err, vault.ErrNotCounterparty)

	plan, err := f.vault.RealizeBadDebt(counterparty, testExchange, dec("400"))
	require.NoError(t, err)
	require.Equal(t, "100.000000000000000000", plan.Insurance.String())
	require.Equal(t, "200.000000000000000000", plan.High.String())
	require.Equal(t, "100.000000000000000000", plan.Low.String())

	insuranceLeft, err := f.insurance.Balance(testExchange)
	require.NoError(t, err)
	require.True(t, insuranceLeft.IsZero())

	highLiq, _, _ := f.vault.TrancheLiquidity(testExchange, types.TrancheHigh)
	lowLiq, _, _ := f.vault.TrancheLiquidity(testExchange, types.TrancheLow)
	require.Equal(t, "800.000000000000000000", highLiq.String())
	require.Equal(t, "900.000000000000000000", lowLiq.String())

	badDebtEvents := f.recorder.OfType("bad_debt_resolved")
	require.Len(t, badDebtEvents, 1)
	require.Equal(t, "400.000000000000000000", badDebtEvents[0].(events.BadDebtResolved).BadDebt.String())
}

func TestRealizeBadDebt_BankruptDrawsNothing(t *testing.T) {
	f := newFixture(t)

	f.insurance.Deposit(testExchange, dec("10"))
	_, err := f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("20"))
	require.NoError(t, err)

	_, err = f.vault.RealizeBadDebt(counterparty, testExchange, dec("1000"))
	require.ErrorIs(t, err, vault.ErrBankrupt)

	insuranceLeft, _ := f.insurance.Balance(testExchange)
	require.Equal(t, "10.000000000000000000", insuranceLeft.String())
	highLiq, _, _ := f.vault.TrancheLiquidity(testExchange, types.TrancheHigh)
	require.Equal(t, "20.000000000000000000", highLiq.String())
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("1000"))
	require.NoError(t, err)

	require.ErrorIs(t, f.vault.Withdraw("stranger", testExchange, "dest", dec("100")), vault.ErrNotCounterparty)
	require.ErrorIs(t, f.vault.Withdraw(counterparty, testExchange, "dest", dec("5000")), vault.ErrInsufficientFunds)

	require.NoError(t, f.vault.Withdraw(counterparty, testExchange, "dest", dec("400")))
	balance, err := f.vault.Balance(testExchange)
	require.NoError(t, err)
	require.Equal(t, "600.000000000000000000", balance.String())
}

func TestSetMaxLoss(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("1000"))
	require.NoError(t, err)

	require.ErrorIs(t, f.vault.SetMaxLoss("stranger", testExchange, types.TrancheHigh, 5000), vault.ErrNotOwner)
	require.ErrorIs(t, f.vault.SetMaxLoss(owner, testExchange, types.TrancheHigh, 0), vault.ErrInvalidMaxLoss)
	require.ErrorIs(t, f.vault.SetMaxLoss(owner, testExchange, types.TrancheHigh, 10001), vault.ErrInvalidMaxLoss)

	// The High tranche carries the whole -5000 PNL, clamped at its 1000
	// liquidity; a 50% cap cannot cover that exposure, a 100% cap can.
	f.pnl.pnl = dec("-5000")
	require.ErrorIs(t, f.vault.SetMaxLoss(owner, testExchange, types.TrancheHigh, 5000), vault.ErrFundNotEnough)
	require.NoError(t, f.vault.SetMaxLoss(owner, testExchange, types.TrancheHigh, 10000))
}

func TestSetRiskLiquidityWeight(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.vault.SetRiskLiquidityWeight("stranger", testExchange, 600, 300), vault.ErrNotOwner)
	require.ErrorIs(t, f.vault.SetRiskLiquidityWeight(owner, testExchange, 0, 0), vault.ErrInvalidWeight)
	require.ErrorIs(t, f.vault.SetRiskLiquidityWeight(owner, testExchange, 1001, 300), vault.ErrInvalidWeight)

	_, err := f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("1000"))
	require.NoError(t, err)

	require.NoError(t, f.vault.SetRiskLiquidityWeight(owner, testExchange, 1000, 500))
	available, err := f.vault.AvailableLiquidity(testExchange)
	require.NoError(t, err)
	require.Equal(t, "1000.000000000000000000", available.String())
}

func TestAllocatedPNL_SplitsByWeightedLiquidity(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("10000"))
	require.NoError(t, err)
	_, err = f.vault.AddLiquidity(testExchange, types.TrancheLow, bob, dec("20000"))
	require.NoError(t, err)

	f.pnl.pnl = dec("300")
	high, low, err := f.vault.AllocatedPNL(testExchange)
	require.NoError(t, err)
	require.Equal(t, "150.000000000000000000", high.String())
	require.Equal(t, "150.000000000000000000", low.String())
}

func TestRemoveLiquidityWhenShutdown(t *testing.T) {
	f := newFixture(t)

	_, err := f.vault.AddLiquidity(testExchange, types.TrancheHigh, alice, dec("500"))
	require.NoError(t, err)
	_, err = f.vault.AddLiquidity(testExchange, types.TrancheHigh, bob, dec("500"))
	require.NoError(t, err)

	_, err = f.vault.RemoveLiquidityWhenShutdown(testExchange, types.TrancheHigh, alice)
	require.ErrorIs(t, err, vault.ErrMarketStillOpen)

	// Market shuts down 200 underwater; the whole loss lands on High.
	f.pnl.open = false
	f.pnl.pnl = dec("-200")

	payout, err := f.vault.RemoveLiquidityWhenShutdown(testExchange, types.TrancheHigh, alice)
	require.NoError(t, err)
	require.Equal(t, "400.000000000000000000", payout.String())

	// The settlement token price froze at the first withdrawal: a later PNL
	// change does not alter the second LP's payout.
	f.pnl.pnl = dec("-900")
	payout, err = f.vault.RemoveLiquidityWhenShutdown(testExchange, types.TrancheHigh, bob)
	require.NoError(t, err)
	require.Equal(t, "400.000000000000000000", payout.String())

	_, err = f.vault.RemoveLiquidityWhenShutdown(testExchange, types.TrancheHigh, alice)
	require.ErrorIs(t, err, vault.ErrInsufficientTokens)
}
