package vault

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
)

// ErrInsuranceExhausted means a draw exceeded the treasury balance. The
// waterfall never requests more than the balance, so hitting this indicates
// a caller bug.
var ErrInsuranceExhausted = errors.New("insurance fund balance exceeded")

// MemoryInsuranceFund is an in-memory insurance treasury keyed by exchange.
// Safe for concurrent use.
type MemoryInsuranceFund struct {
	mu       sync.Mutex
	balances map[string]sdkmath.LegacyDec
}

// NewMemoryInsuranceFund creates an empty treasury.
func NewMemoryInsuranceFund() *MemoryInsuranceFund {
	return &MemoryInsuranceFund{balances: make(map[string]sdkmath.LegacyDec)}
}

// Deposit credits the treasury for an exchange.
func (f *MemoryInsuranceFund) Deposit(exchange string, amount sdkmath.LegacyDec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[exchange]
	if !ok {
		balance = sdkmath.LegacyZeroDec()
	}
	f.balances[exchange] = balance.Add(amount)
}

func (f *MemoryInsuranceFund) Balance(exchange string) (sdkmath.LegacyDec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[exchange]
	if !ok {
		return sdkmath.LegacyZeroDec(), nil
	}
	return balance, nil
}

func (f *MemoryInsuranceFund) Draw(exchange string, amount sdkmath.LegacyDec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[exchange]
	if !ok {
		balance = sdkmath.LegacyZeroDec()
	}
	if balance.LT(amount) {
		return fmt.Errorf("%w: have %s, want %s", ErrInsuranceExhausted, balance, amount)
	}
	f.balances[exchange] = balance.Sub(amount)
	return nil
}
