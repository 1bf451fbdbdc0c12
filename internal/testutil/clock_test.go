package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockClock_StartsAtZero(t *testing.T) {
	clock := NewBlockClock()
	assert.Equal(t, int64(0), clock.Current())
}

func TestBlockClock_NextIncrementsMonotonically(t *testing.T) {
	clock := NewBlockClock()

	h, ts := clock.Next()
	assert.Equal(t, int64(1), h)
	assert.Equal(t, Genesis.Add(time.Minute), ts)

	h, ts = clock.Next()
	assert.Equal(t, int64(2), h)
	assert.Equal(t, Genesis.Add(2*time.Minute), ts)
	assert.Equal(t, int64(2), clock.Current())
}

func TestBlockClock_At(t *testing.T) {
	genesis := time.Date(2020, 6, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	clock := NewBlockClockAt(genesis, 10*time.Second)

	assert.Equal(t, genesis.UTC(), clock.At(0))
	assert.Equal(t, genesis.Add(100*time.Second).UTC(), clock.At(10))
	assert.Equal(t, time.UTC, clock.At(10).Location())
	assert.Equal(t, int64(0), clock.Current())
}

func TestBlockClock_Reset(t *testing.T) {
	clock := NewBlockClock()
	clock.Next()
	clock.Next()
	clock.Next()
	assert.Equal(t, int64(3), clock.Current())

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current())

	h, _ := clock.Next()
	assert.Equal(t, int64(1), h)
}

func TestBlockClock_ThreadSafe(t *testing.T) {
	clock := NewBlockClock()
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make([][]int64, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		results[i] = make([]int64, callsPerGoroutine)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				results[idx][j], _ = clock.Next()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, row := range results {
		for _, h := range row {
			require.False(t, seen[h], "duplicate height %d", h)
			seen[h] = true
		}
	}
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
}

func TestBlockTime_MatchesDefaultClock(t *testing.T) {
	clock := NewBlockClock()
	for h := int64(0); h < 5; h++ {
		assert.Equal(t, clock.At(h), BlockTime(h))
	}
}
