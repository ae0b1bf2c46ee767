/*

Typed engine events. Every observable side effect of the exchange and the
vault is emitted as one of these records through the Bus; sinks (log, NATS,
postgres archive, metrics, test recorder) subscribe without the engine
knowing about them.

*/

package events

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// Event is one observable engine side effect.
type Event interface {
	// Type is the stable wire name of the event.
	Type() string
	// Exchange identifies the market the event belongs to.
	ExchangeID() string
}

// Envelope wraps an event for transport and archival.
type Envelope struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Exchange  string    `json:"exchange"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Event     `json:"payload"`
}

// Wrap builds a transport envelope around an event.
func Wrap(evt Event, now time.Time) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		EventType: evt.Type(),
		Exchange:  evt.ExchangeID(),
		Timestamp: now,
		Payload:   evt,
	}
}

// SwapInput is emitted after a successful swap-input trade.
type SwapInput struct {
	Exchange         string            `json:"exchange"`
	Dir              string            `json:"dir"`
	QuoteAssetAmount sdkmath.LegacyDec `json:"quote_asset_amount"`
	BaseAssetAmount  sdkmath.LegacyDec `json:"base_asset_amount"`
}

func (e SwapInput) Type() string       { return "swap_input" }
func (e SwapInput) ExchangeID() string { return e.Exchange }

// SwapOutput is emitted after a successful swap-output trade.
type SwapOutput struct {
	Exchange         string            `json:"exchange"`
	Dir              string            `json:"dir"`
	QuoteAssetAmount sdkmath.LegacyDec `json:"quote_asset_amount"`
	BaseAssetAmount  sdkmath.LegacyDec `json:"base_asset_amount"`
}

func (e SwapOutput) Type() string       { return "swap_output" }
func (e SwapOutput) ExchangeID() string { return e.Exchange }

// ReserveSnapshotted is emitted whenever a reserve snapshot is appended.
type ReserveSnapshotted struct {
	Exchange           string            `json:"exchange"`
	QuoteAssetReserve  sdkmath.LegacyDec `json:"quote_asset_reserve"`
	BaseAssetReserve   sdkmath.LegacyDec `json:"base_asset_reserve"`
	CumulativeNotional sdkmath.LegacyDec `json:"cumulative_notional"`
	BlockNumber        int64             `json:"block_number"`
}

func (e ReserveSnapshotted) Type() string       { return "reserve_snapshotted" }
func (e ReserveSnapshotted) ExchangeID() string { return e.Exchange }

// MoveAMMPrice carries the full decision context of an oracle-convergence
// attempt, emitted whether or not the move was applied.
type MoveAMMPrice struct {
	Exchange    string            `json:"exchange"`
	AMMPrice    sdkmath.LegacyDec `json:"amm_price"`
	OraclePrice sdkmath.LegacyDec `json:"oracle_price"`
	AdjustPrice sdkmath.LegacyDec `json:"adjust_price"`
	MMLiquidity sdkmath.LegacyDec `json:"mm_liquidity"`
	MMPNL       sdkmath.LegacyDec `json:"mm_pnl"`
	Moved       bool              `json:"moved"`
}

func (e MoveAMMPrice) Type() string       { return "move_amm_price" }
func (e MoveAMMPrice) ExchangeID() string { return e.Exchange }

// LiquidityMigrated is emitted after a successful liquidity migration.
type LiquidityMigrated struct {
	Exchange           string            `json:"exchange"`
	Multiplier         sdkmath.LegacyDec `json:"multiplier"`
	QuoteAssetReserve  sdkmath.LegacyDec `json:"quote_asset_reserve"`
	BaseAssetReserve   sdkmath.LegacyDec `json:"base_asset_reserve"`
	CumulativeNotional sdkmath.LegacyDec `json:"cumulative_notional"`
}

func (e LiquidityMigrated) Type() string       { return "liquidity_migrated" }
func (e LiquidityMigrated) ExchangeID() string { return e.Exchange }

// FundingSettled is emitted after a funding settlement.
type FundingSettled struct {
	Exchange        string            `json:"exchange"`
	FundingRate     sdkmath.LegacyDec `json:"funding_rate"`
	PremiumFraction sdkmath.LegacyDec `json:"premium_fraction"`
	MarkTwap        sdkmath.LegacyDec `json:"mark_twap"`
	IndexTwap       sdkmath.LegacyDec `json:"index_twap"`
	NextFundingTime time.Time         `json:"next_funding_time"`
}

func (e FundingSettled) Type() string       { return "funding_settled" }
func (e FundingSettled) ExchangeID() string { return e.Exchange }

// MarketShutdown is emitted when a market is shut down for good.
type MarketShutdown struct {
	Exchange        string            `json:"exchange"`
	SettlementPrice sdkmath.LegacyDec `json:"settlement_price"`
}

func (e MarketShutdown) Type() string       { return "market_shutdown" }
func (e MarketShutdown) ExchangeID() string { return e.Exchange }

// CapChanged is emitted when the owner changes the market's holding caps.
type CapChanged struct {
	Exchange                string            `json:"exchange"`
	MaxHoldingBaseAsset     sdkmath.LegacyDec `json:"max_holding_base_asset"`
	OpenInterestNotionalCap sdkmath.LegacyDec `json:"open_interest_notional_cap"`
}

func (e CapChanged) Type() string       { return "cap_changed" }
func (e CapChanged) ExchangeID() string { return e.Exchange }

// LiquidityAdd is emitted when an LP deposits into a tranche.
type LiquidityAdd struct {
	Exchange    string            `json:"exchange"`
	Account     string            `json:"account"`
	Risk        string            `json:"risk"`
	LpFund      sdkmath.LegacyDec `json:"lpfund"`
	TokenAmount sdkmath.LegacyDec `json:"tokenamount"`
}

func (e LiquidityAdd) Type() string       { return "liquidity_add" }
func (e LiquidityAdd) ExchangeID() string { return e.Exchange }

// LiquidityRemove is emitted when an LP withdraws from a tranche.
type LiquidityRemove struct {
	Exchange    string            `json:"exchange"`
	Account     string            `json:"account"`
	Risk        string            `json:"risk"`
	LpFund      sdkmath.LegacyDec `json:"lpfund"`
	TokenAmount sdkmath.LegacyDec `json:"tokenamount"`
}

func (e LiquidityRemove) Type() string       { return "liquidity_remove" }
func (e LiquidityRemove) ExchangeID() string { return e.Exchange }

// BadDebtResolved reports the waterfall components of a bad-debt resolution;
// the three draws always sum exactly to BadDebt.
type BadDebtResolved struct {
	Exchange                    string            `json:"exchange"`
	BadDebt                     sdkmath.LegacyDec `json:"bad_debt"`
	InsuranceFundResolveBadDebt sdkmath.LegacyDec `json:"insurance_fund_resolve_bad_debt"`
	MMHighResolveBadDebt        sdkmath.LegacyDec `json:"mm_high_resolve_bad_debt"`
	MMLowResolveBadDebt         sdkmath.LegacyDec `json:"mm_low_resolve_bad_debt"`
}

func (e BadDebtResolved) Type() string       { return "bad_debt_resolved" }
func (e BadDebtResolved) ExchangeID() string { return e.Exchange }
