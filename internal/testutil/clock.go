package testutil

import (
	"sync"
	"time"
)

// Genesis is the timestamp of height 0 on a default BlockClock.
var Genesis = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultBlockInterval separates consecutive blocks on a default BlockClock.
const DefaultBlockInterval = time.Minute

// BlockClock hands out deterministic block heights and timestamps.
//
// Block h is stamped genesis + h*interval, so the same height always maps
// to the same time and scenarios produce identical output across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type BlockClock struct {
	mu       sync.Mutex
	genesis  time.Time
	interval time.Duration
	height   int64
}

// NewBlockClock creates a clock at height 0 with the default genesis and
// interval. The first call to Next() returns height 1.
func NewBlockClock() *BlockClock {
	return NewBlockClockAt(Genesis, DefaultBlockInterval)
}

// NewBlockClockAt creates a clock with a custom genesis and interval.
func NewBlockClockAt(genesis time.Time, interval time.Duration) *BlockClock {
	return &BlockClock{genesis: genesis.UTC(), interval: interval}
}

// At returns the timestamp of height. It does not move the clock.
func (c *BlockClock) At(height int64) time.Time {
	return c.genesis.Add(time.Duration(height) * c.interval)
}

// Next advances to the next height and returns it with its timestamp.
func (c *BlockClock) Next() (int64, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height++
	return c.height, c.At(c.height)
}

// Current returns the current height without advancing.
func (c *BlockClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Reset moves the clock back to height 0.
func (c *BlockClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = 0
}

// BlockTime is the timestamp of height on a default BlockClock.
func BlockTime(height int64) time.Time {
	return Genesis.Add(time.Duration(height) * DefaultBlockInterval)
}
