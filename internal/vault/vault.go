/*

RiskVault pools third-party capital into two risk-weighted tranches per
market, allocates the market maker's unrealized counterparty PNL across
them, and resolves bad debt through the insurance-first waterfall. Like the
exchange, every mutating call validates and plans first and mutates last, so
a failed call leaves no partial state behind.

*/

package vault

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/openperp/mmengine/internal/chrono"
	"github.com/openperp/mmengine/internal/events"
	"github.com/openperp/mmengine/internal/logger"
	"github.com/openperp/mmengine/internal/types"
)

var (
	// ErrUnknownExchange means the market was never registered.
	ErrUnknownExchange = errors.New("unknown exchange")
	// ErrZeroInput means an amount argument was zero or negative.
	ErrZeroInput = errors.New("input amount must be positive")
	// ErrLocked means the LP position is still inside its withdrawal lock.
	ErrLocked = errors.New("liquidity is still locked")
	// ErrInsufficientTokens means the LP tried to burn more tranche tokens
	// than it holds.
	ErrInsufficientTokens = errors.New("insufficient tranche token balance")
	// ErrInsufficientFunds means the vault's own balance cannot cover a
	// payout. A liquidity-timing guard, not an expected path.
	ErrInsufficientFunds = errors.New("vault balance insufficient")
	// ErrMarketStillOpen gates shutdown-only withdrawal.
	ErrMarketStillOpen = errors.New("market is still open")
	// ErrFundNotEnough means a new max-loss cap would not cover the
	// tranche's current unrealized-loss exposure.
	ErrFundNotEnough = errors.New("tranche fund does not cover exposure under new cap")
	// ErrInvalidWeight rejects weight settings outside 0..1000 or both zero.
	ErrInvalidWeight = errors.New("invalid tranche weight")
	// ErrInvalidMaxLoss rejects max-loss settings outside (0, 10000].
	ErrInvalidMaxLoss = errors.New("invalid max loss basis points")
	// ErrNotOwner gates owner-only operations.
	ErrNotOwner = errors.New("caller is not the owner")
	// ErrNotCounterparty gates counterparty-only operations.
	ErrNotCounterparty = errors.New("caller is not the registered counterparty")
)

// LpPosition is one account's stake in one tranche.
type LpPosition struct {
	Account          string            `json:"account"`
	TokenBalance     sdkmath.LegacyDec `json:"token_balance"`
	NextWithdrawTime time.Time         `json:"next_withdraw_time"`
}

// tranchePool is the state of one risk tranche of one market.
type tranchePool struct {
	totalLiquidity sdkmath.LegacyDec
	tokenSupply    sdkmath.LegacyDec
	positions      map[string]*LpPosition
	// settlementTokenPrice is frozen at the first shutdown withdrawal so
	// every LP settles at the same per-token value.
	settlementTokenPrice sdkmath.LegacyDec
}

func newTranchePool() *tranchePool {
	return &tranchePool{
		totalLiquidity:       sdkmath.LegacyZeroDec(),
		tokenSupply:          sdkmath.LegacyZeroDec(),
		positions:            make(map[string]*LpPosition),
		settlementTokenPrice: sdkmath.LegacyDec{},
	}
}

// tokenPrice is totalLiquidity/tokenSupply, or 1 for an empty pool.
func (p *tranchePool) tokenPrice() sdkmath.LegacyDec {
	if !p.tokenSupply.IsPositive() {
		return sdkmath.LegacyOneDec()
	}
	return p.totalLiquidity.Quo(p.tokenSupply)
}

// exchangeFund is all vault state attached to one market.
type exchangeFund struct {
	cfg       *types.ExchangeConfig
	pnl       PnlSource
	insurance InsuranceFund
	tranches  map[types.Tranche]*tranchePool
	// cached is counterparty-staged liquidity waiting to be folded into the
	// High tranche on the next liquidity-modifying call.
	cached sdkmath.LegacyDec
	// balance is the vault's own quote-asset balance for this market.
	balance sdkmath.LegacyDec
}

// RiskVault pools LP capital for registered markets. Not internally
// synchronized; the host serializes calls per market.
type RiskVault struct {
	clock chrono.BlockClock
	bus   *events.Bus
	log   zerolog.Logger
	funds map[string]*exchangeFund
}

// New creates an empty vault.
func New(clock chrono.BlockClock, bus *events.Bus) *RiskVault {
	return &RiskVault{
		clock: clock,
		bus:   bus,
		log:   logger.GetForComponent("risk_vault"),
		funds: make(map[string]*exchangeFund),
	}
}

// RegisterExchange attaches a market to the vault. The config struct is
// shared with the exchange so owner updates are visible to both sides.
func (v *RiskVault) RegisterExchange(exchange string, cfg *types.ExchangeConfig, pnl PnlSource, insurance InsuranceFund) error {
	if _, exists := v.funds[exchange]; exists {
		return fmt.Errorf("exchange %s already registered", exchange)
	}
	if cfg.HighWeight == 0 && cfg.LowWeight == 0 {
		return ErrInvalidWeight
	}
	v.funds[exchange] = &exchangeFund{
		cfg:       cfg,
		pnl:       pnl,
		insurance: insurance,
		tranches: map[types.Tranche]*tranchePool{
			types.TrancheHigh: newTranchePool(),
			types.TrancheLow:  newTranchePool(),
		},
		cached:  sdkmath.LegacyZeroDec(),
		balance: sdkmath.LegacyZeroDec(),
	}
	return nil
}

// AddLiquidity deposits amount into a tranche, minting tranche tokens at the
// current token price. A fresh lock starts only for a deposit onto a zero
// balance; while a lock is running a deposit extends it, and a deposit onto
// an expired lock leaves it expired.
func (v *RiskVault) AddLiquidity(exchange string, tranche types.Tranche, account string, amount sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	fund, err := v.fund(exchange)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.LegacyDec{}, ErrZeroInput
	}
	v.foldCached(exchange, fund)

	pool := fund.tranches[tranche]
	tokens := amount.QuoTruncate(pool.tokenPrice())

	pool.totalLiquidity = pool.totalLiquidity.Add(amount)
	pool.tokenSupply = pool.tokenSupply.Add(tokens)
	fund.balance = fund.balance.Add(amount)

	now := v.clock.Now()
	pos, ok := pool.positions[account]
	switch {
	case !ok || pos.TokenBalance.IsZero():
		pool.positions[account] = &LpPosition{
			Account:          account,
			TokenBalance:     tokens,
			NextWithdrawTime: now.Add(fund.cfg.LpLockDuration),
		}
	case now.Before(pos.NextWithdrawTime):
		pos.TokenBalance = pos.TokenBalance.Add(tokens)
		pos.NextWithdrawTime = now.Add(fund.cfg.LpLockDuration)
	default:
		pos.TokenBalance = pos.TokenBalance.Add(tokens)
	}

	v.bus.Emit(events.LiquidityAdd{
		Exchange:    exchange,
		Account:     account,
		Risk:        tranche.String(),
		LpFund:      amount,
		TokenAmount: tokens,
	})
	return tokens, nil
}

// RemoveLiquidity burns tokenAmount tranche tokens and pays out at the
// current token price minus the withdraw fee; the fee stays in the pool.
func (v *RiskVault) RemoveLiquidity(exchange string, tranche types.Tranche, account string, tokenAmount sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	fund, err := v.fund(exchange)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if tokenAmount.IsNil() || !tokenAmount.IsPositive() {
		return sdkmath.LegacyDec{}, ErrZeroInput
	}

	pool := fund.tranches[tranche]
	pos, ok := pool.positions[account]
	if !ok || pos.TokenBalance.LT(tokenAmount) {
		return sdkmath.LegacyDec{}, ErrInsufficientTokens
	}
	if v.clock.Now().Before(pos.NextWithdrawTime) {
		return sdkmath.LegacyDec{}, ErrLocked
	}
	v.foldCached(exchange, fund)

	gross := tokenAmount.Mul(pool.tokenPrice())
	fee := gross.Mul(fund.cfg.WithdrawFeeRatio)
	payout := gross.Sub(fee)
	if payout.GT(fund.balance) {
		return sdkmath.LegacyDec{}, ErrInsufficientFunds
	}

	pool.tokenSupply = pool.tokenSupply.Sub(tokenAmount)
	// tokenPrice rounds half-even, so a full-supply exit can overshoot the
	// tranche liquidity by one minimal unit. Floor at zero.
	pool.totalLiquidity = sdkmath.LegacyMaxDec(pool.totalLiquidity.Sub(payout), sdkmath.LegacyZeroDec())
	fund.balance = fund.balance.Sub(payout)
	pos.TokenBalance = pos.TokenBalance.Sub(tokenAmount)
	if pos.TokenBalance.IsZero() {
		delete(pool.positions, account)
	}

	v.bus.Emit(events.LiquidityRemove{
		Exchange:    exchange,
		Account:     account,
		Risk:        tranche.String(),
		LpFund:      payout,
		TokenAmount: tokenAmount,
	})
	return payout, nil
}

// RemoveLiquidityWhenShutdown pays out the account's full tranche balance at
// the frozen settlement-adjusted token price, bypassing the lock timer and
// the withdraw fee. Only available after the exchange shut down.
func (v *RiskVault) RemoveLiquidityWhenShutdown(exchange string, tranche types.Tranche, account string) (sdkmath.LegacyDec, error) {
	fund, err := v.fund(exchange)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if fund.pnl.IsOpen() {
		return sdkmath.LegacyDec{}, ErrMarketStillOpen
	}

	pool := fund.tranches[tranche]
	pos, ok := pool.positions[account]
	if !ok || !pos.TokenBalance.IsPositive() {
		return sdkmath.LegacyDec{}, ErrInsufficientTokens
	}

	price, err := v.settlementTokenPrice(exchange, fund, tranche, pool)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}

	payout := pos.TokenBalance.Mul(price)
	if payout.GT(fund.balance) {
		return sdkmath.LegacyDec{}, ErrInsufficientFunds
	}

	tokens := pos.TokenBalance
	pool.tokenSupply = pool.tokenSupply.Sub(tokens)
	pool.totalLiquidity = sdkmath.LegacyMaxDec(pool.totalLiquidity.Sub(payout), sdkmath.LegacyZeroDec())
	fund.balance = fund.balance.Sub(payout)
	delete(pool.positions, account)

	v.bus.Emit(events.LiquidityRemove{
		Exchange:    exchange,
		Account:     account,
		Risk:        tranche.String(),
		LpFund:      payout,
		TokenAmount: tokens,
	})
	return payout, nil
}

// UnrealizedPNL returns the market maker's total unrealized counterparty PNL
// for the exchange.
func (v *RiskVault) UnrealizedPNL(exchange string) (sdkmath.LegacyDec, error) {
	fund, err := v.fund(exchange)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return fund.pnl.MMUnrealizedPNL()
}

// AllocatedPNL queries the exchange's unrealized PNL once and splits it
// across the tranches proportional to weight-scaled liquidity, clamping each
// tranche's loss at its own total liquidity.
func (v *RiskVault) AllocatedPNL(exchange string) (high, low sdkmath.LegacyDec, err error) {
	fund, err := v.fund(exchange)
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
	}
	total, err := fund.pnl.MMUnrealizedPNL()
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
	}
	high, low = AllocatePNL(
		total,
		fund.tranches[types.TrancheHigh].totalLiquidity,
		fund.tranches[types.TrancheLow].totalLiquidity,
		fund.cfg.HighWeight,
		fund.cfg.LowWeight,
	)
	return high, low, nil
}

// AvailableLiquidity is the weight-scaled sum of tranche liquidity: the
// quote amount the vault stands behind the market maker with. Implements
// the exchange's LiquiditySource.
func (v *RiskVault) AvailableLiquidity(exchange string) (sdkmath.LegacyDec, error) {
	fund, err := v.fund(exchange)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	denominator := sdkmath.LegacyNewDec(types.WeightDenominator)
	high := fund.tranches[types.TrancheHigh].totalLiquidity.
		MulInt64(int64(fund.cfg.HighWeight)).Quo(denominator)
	low := fund.tranches[types.TrancheLow].totalLiquidity.
		MulInt64(int64(fund.cfg.LowWeight)).Quo(denominator)
	return high.Add(low), nil
}

// AddCachedLiquidity stages counterparty liquidity; it is folded into the
// High tranche exactly once, atomically with the next liquidity-modifying
// call. Counterparty-only.
func (v *RiskVault) AddCachedLiquidity(caller, exchange string, amount sdkmath.LegacyDec) error {
	fund, err := v.fund(exchange)
	if err != nil {
		return err
	}
	if caller != fund.cfg.Counterparty {
		return ErrNotCounterparty
	}
	if amount.IsNil() || !amount.IsPositive() {
		return ErrZeroInput
	}
	fund.cached = fund.cached.Add(amount)
	fund.balance = fund.balance.Add(amount)
	return nil
}

// RealizeBadDebt draws amount through the waterfall: insurance treasury
// first, then the tranches by weight with capacity reassignment. Fails with
// ErrBankrupt, drawing nothing, when aggregate capacity is insufficient.
// Counterparty-only.
func (v *RiskVault) RealizeBadDebt(caller, exchange string, amount sdkmath.LegacyDec) (BadDebtResolution, error) {
	fund, err := v.fund(exchange)
	if err != nil {
		return BadDebtResolution{}, err
	}
	if caller != fund.cfg.Counterparty {
		return BadDebtResolution{}, ErrNotCounterparty
	}
	if amount.IsNil() || !amount.IsPositive() {
		return BadDebtResolution{}, ErrZeroInput
	}
	v.foldCached(exchange, fund)

	insuranceBalance, err := fund.insurance.Balance(exchange)
	if err != nil {
		return BadDebtResolution{}, fmt.Errorf("failed to query insurance balance: %w", err)
	}

	plan, err := PlanBadDebt(
		insuranceBalance,
		fund.tranches[types.TrancheHigh].totalLiquidity,
		fund.tranches[types.TrancheLow].totalLiquidity,
		fund.cfg.HighWeight,
		fund.cfg.LowWeight,
		amount,
	)
	if err != nil {
		return BadDebtResolution{}, err
	}

	if plan.Insurance.IsPositive() {
		if err := fund.insurance.Draw(exchange, plan.Insurance); err != nil {
			return BadDebtResolution{}, err
		}
	}
	high := fund.tranches[types.TrancheHigh]
	low := fund.tranches[types.TrancheLow]
	high.totalLiquidity = high.totalLiquidity.Sub(plan.High)
	low.totalLiquidity = low.totalLiquidity.Sub(plan.Low)
	fund.balance = fund.balance.Sub(plan.High).Sub(plan.Low)

	v.bus.Emit(events.BadDebtResolved{
		Exchange:                    exchange,
		BadDebt:                     amount,
		InsuranceFundResolveBadDebt: plan.Insurance,
		MMHighResolveBadDebt:        plan.High,
		MMLowResolveBadDebt:         plan.Low,
	})
	v.log.Warn().
		Str("exchange", exchange).
		Str("bad_debt", amount.String()).
		Str("insurance", plan.Insurance.String()).
		Str("high", plan.High.String()).
		Str("low", plan.Low.String()).
		Msg("Bad debt resolved")
	return plan, nil
}

// Withdraw pays amount from the vault's own balance to the given address.
// Counterparty-only; a liquidity-timing guard rather than an expected error
// path.
func (v *RiskVault) Withdraw(caller, exchange, to string, amount sdkmath.LegacyDec) error {
	fund, err := v.fund(exchange)
	if err != nil {
		return err
	}
	if caller != fund.cfg.Counterparty {
		return ErrNotCounterparty
	}
	if amount.IsNil() || !amount.IsPositive() {
		return ErrZeroInput
	}
	if amount.GT(fund.balance) {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientFunds, fund.balance, amount)
	}
	fund.balance = fund.balance.Sub(amount)
	v.log.Info().
		Str("exchange", exchange).
		Str("to", to).
		Str("amount", amount.String()).
		Msg("Vault withdrawal")
	return nil
}

// SetMaxLoss updates a tranche's max-loss cap; owner-only. The tranche's
// current unrealized-loss exposure must still fit within the new cap.
func (v *RiskVault) SetMaxLoss(caller, exchange string, tranche types.Tranche, bps uint32) error {
	fund, err := v.fund(exchange)
	if err != nil {
		return err
	}
	if caller != fund.cfg.Owner {
		return ErrNotOwner
	}
	if bps == 0 || bps > types.MaxLossDenominator {
		return ErrInvalidMaxLoss
	}

	high, low, err := v.AllocatedPNL(exchange)
	if err != nil {
		return err
	}
	exposure := high
	if tranche == types.TrancheLow {
		exposure = low
	}
	if exposure.IsNegative() {
		bound := fund.tranches[tranche].totalLiquidity.
			MulInt64(int64(bps)).Quo(sdkmath.LegacyNewDec(types.MaxLossDenominator))
		if exposure.Abs().GT(bound) {
			return ErrFundNotEnough
		}
	}

	if tranche == types.TrancheHigh {
		fund.cfg.HighMaxLossBps = bps
	} else {
		fund.cfg.LowMaxLossBps = bps
	}
	return nil
}

// SetRiskLiquidityWeight updates both tranche weights; owner-only. At least
// one weight must be nonzero and neither may exceed the denominator.
func (v *RiskVault) SetRiskLiquidityWeight(caller, exchange string, highWeight, lowWeight uint32) error {
	fund, err := v.fund(exchange)
	if err != nil {
		return err
	}
	if caller != fund.cfg.Owner {
		return ErrNotOwner
	}
	if highWeight == 0 && lowWeight == 0 {
		return ErrInvalidWeight
	}
	if highWeight > types.WeightDenominator || lowWeight > types.WeightDenominator {
		return ErrInvalidWeight
	}
	fund.cfg.HighWeight = highWeight
	fund.cfg.LowWeight = lowWeight
	return nil
}

// TrancheLiquidity returns a tranche's pooled liquidity and token supply.
func (v *RiskVault) TrancheLiquidity(exchange string, tranche types.Tranche) (liquidity, supply sdkmath.LegacyDec, err error) {
	fund, err := v.fund(exchange)
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
	}
	pool := fund.tranches[tranche]
	return pool.totalLiquidity, pool.tokenSupply, nil
}

// Position returns the LP position of an account in a tranche, or nil.
func (v *RiskVault) Position(exchange string, tranche types.Tranche, account string) (*LpPosition, error) {
	fund, err := v.fund(exchange)
	if err != nil {
		return nil, err
	}
	pos, ok := fund.tranches[tranche].positions[account]
	if !ok {
		return nil, nil
	}
	clone := *pos
	return &clone, nil
}

// Balance returns the vault's own quote balance for a market.
func (v *RiskVault) Balance(exchange string) (sdkmath.LegacyDec, error) {
	fund, err := v.fund(exchange)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return fund.balance, nil
}

// CachedLiquidity returns the pending counterparty-staged amount.
func (v *RiskVault) CachedLiquidity(exchange string) (sdkmath.LegacyDec, error) {
	fund, err := v.fund(exchange)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return fund.cached, nil
}

func (v *RiskVault) fund(exchange string) (*exchangeFund, error) {
	fund, ok := v.funds[exchange]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, exchange)
	}
	return fund, nil
}

// foldCached moves staged counterparty liquidity into the High tranche.
// No tokens are minted, so existing High LPs absorb it as a donation.
func (v *RiskVault) foldCached(exchange string, fund *exchangeFund) {
	if !fund.cached.IsPositive() {
		return
	}
	amount := fund.cached
	fund.cached = sdkmath.LegacyZeroDec()
	fund.tranches[types.TrancheHigh].totalLiquidity =
		fund.tranches[types.TrancheHigh].totalLiquidity.Add(amount)
	v.log.Debug().
		Str("exchange", exchange).
		Str("amount", amount.String()).
		Msg("Cached liquidity folded into high tranche")
}

// settlementTokenPrice freezes the tranche's settlement-adjusted per-token
// value at the first shutdown withdrawal: (liquidity + allocated PNL) over
// token supply, floored at zero.
func (v *RiskVault) settlementTokenPrice(exchange string, fund *exchangeFund, tranche types.Tranche, pool *tranchePool) (sdkmath.LegacyDec, error) {
	if !pool.settlementTokenPrice.IsNil() {
		return pool.settlementTokenPrice, nil
	}

	high, low, err := v.AllocatedPNL(exchange)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	allocated := high
	if tranche == types.TrancheLow {
		allocated = low
	}

	value := sdkmath.LegacyMaxDec(pool.totalLiquidity.Add(allocated), sdkmath.LegacyZeroDec())
	price := sdkmath.LegacyZeroDec()
	if pool.tokenSupply.IsPositive() {
		price = value.Quo(pool.tokenSupply)
	}
	pool.settlementTokenPrice = price
	return price, nil
}
