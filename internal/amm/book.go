package amm

import (
	"sync"
)

// PositionBook is an in-memory PositionSource. The counterparty process
// pushes aggregate exposure updates into it as positions open and close.
type PositionBook struct {
	mu        sync.RWMutex
	exposures map[string]Exposure
}

func NewPositionBook() *PositionBook {
	return &PositionBook{exposures: make(map[string]Exposure)}
}

// SetExposure replaces the aggregate exposure of one market.
func (b *PositionBook) SetExposure(exchange string, exp Exposure) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exposures[exchange] = exp
}

// OpenExposure returns the current aggregate exposure, or zero exposure for
// a market with no recorded positions.
func (b *PositionBook) OpenExposure(exchange string) (Exposure, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if exp, ok := b.exposures[exchange]; ok {
		return exp, nil
	}
	return ZeroExposure(), nil
}

var _ PositionSource = (*PositionBook)(nil)
