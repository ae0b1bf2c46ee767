package vault

import (
	sdkmath "cosmossdk.io/math"
)

// PnlSource is the read-only view of an exchange the vault needs: the market
// maker's unrealized counterparty PNL and the open/shutdown state. This
// interface abstracts away the concrete exchange implementation so the vault
// never holds a mutable reference into the AMM core.
type PnlSource interface {
	// MMUnrealizedPNL values the market maker's position at the live
	// reserves, or at the frozen settlement reserves after shutdown.
	MMUnrealizedPNL() (sdkmath.LegacyDec, error)

	// IsOpen reports whether the market still accepts trades.
	IsOpen() bool
}

// InsuranceFund is the capped quote-asset balance source drawn first in the
// bad-debt waterfall. The treasury itself is an external collaborator.
type InsuranceFund interface {
	Balance(exchange string) (sdkmath.LegacyDec, error)
	Draw(exchange string, amount sdkmath.LegacyDec) error
}
