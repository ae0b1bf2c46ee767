/*

The oracle feed is an external collaborator; the engine consumes it through
the narrow PriceFeeder interface. StaticFeeder is an in-memory implementation
for the service's manual-quote mode and for tests.

*/

package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
)

// ErrUnknownPriceKey is returned for keys the feeder has no quote for.
var ErrUnknownPriceKey = errors.New("unknown oracle price key")

// PriceFeeder supplies external index prices by key.
type PriceFeeder interface {
	// GetPrice returns the latest index price for the key.
	GetPrice(key string) (sdkmath.LegacyDec, error)
	// GetTwapPrice returns the time-weighted index price for the key over
	// the given window.
	GetTwapPrice(key string, interval time.Duration) (sdkmath.LegacyDec, error)
}

// StaticFeeder serves manually posted quotes. Safe for concurrent use.
type StaticFeeder struct {
	mu     sync.RWMutex
	prices map[string]sdkmath.LegacyDec
	twaps  map[string]sdkmath.LegacyDec
}

// NewStaticFeeder creates an empty feeder.
func NewStaticFeeder() *StaticFeeder {
	return &StaticFeeder{
		prices: make(map[string]sdkmath.LegacyDec),
		twaps:  make(map[string]sdkmath.LegacyDec),
	}
}

// SetPrice posts a spot quote for the key. The TWAP quote follows the spot
// quote unless SetTwapPrice posted one explicitly.
func (f *StaticFeeder) SetPrice(key string, price sdkmath.LegacyDec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[key] = price
}

// SetTwapPrice posts a TWAP quote for the key.
func (f *StaticFeeder) SetTwapPrice(key string, price sdkmath.LegacyDec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.twaps[key] = price
}

func (f *StaticFeeder) GetPrice(key string) (sdkmath.LegacyDec, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.prices[key]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %s", ErrUnknownPriceKey, key)
	}
	return price, nil
}

func (f *StaticFeeder) GetTwapPrice(key string, _ time.Duration) (sdkmath.LegacyDec, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if twap, ok := f.twaps[key]; ok {
		return twap, nil
	}
	price, ok := f.prices[key]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %s", ErrUnknownPriceKey, key)
	}
	return price, nil
}
