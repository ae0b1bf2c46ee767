/*

The engine's correctness depends on discrete ordering epochs: the fluctuation
guard needs "one block = one reference price" and the snapshot history
deduplicates per block. Off-chain there is no chain to supply block numbers,
so a BlockClock provides a monotonic logical block sequence instead.

*/

package chrono

import (
	"sync"
	"time"
)

// BlockClock supplies the current wall time and a monotonically
// non-decreasing logical block number.
type BlockClock interface {
	Now() time.Time
	BlockNumber() int64
}

// IntervalClock derives the block number from wall time: one block per fixed
// interval since genesis. It is the production clock.
type IntervalClock struct {
	genesis  time.Time
	interval time.Duration
}

// NewIntervalClock returns an IntervalClock ticking once per interval.
func NewIntervalClock(genesis time.Time, interval time.Duration) *IntervalClock {
	if interval <= 0 {
		interval = time.Second
	}
	return &IntervalClock{genesis: genesis, interval: interval}
}

func (c *IntervalClock) Now() time.Time {
	return time.Now().UTC()
}

func (c *IntervalClock) BlockNumber() int64 {
	return int64(c.Now().Sub(c.genesis) / c.interval)
}

// ManualClock is a test clock advanced explicitly.
type ManualClock struct {
	mu    sync.Mutex
	now   time.Time
	block int64
}

// NewManualClock starts a manual clock at the given time and block 1.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start, block: 1}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) BlockNumber() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// Advance moves wall time forward without changing the block.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NextBlock advances both wall time and the block number.
func (c *ManualClock) NextBlock(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.block++
}

// SetBlock jumps the clock to a specific block number.
func (c *ManualClock) SetBlock(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.block {
		c.block = n
	}
}
