package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepClock_StartsAtEpoch(t *testing.T) {
	clock := NewStepClock(time.Time{}, 0)
	assert.Equal(t, DefaultEpoch, clock.Now())
	assert.Equal(t, DefaultEpoch.Add(time.Second), clock.Now())
}

func TestStepClock_AdvancesByStep(t *testing.T) {
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := NewStepClock(start, time.Minute)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start.Add(time.Minute), clock.Now())
	assert.Equal(t, start.Add(2*time.Minute), clock.Now())
	assert.Equal(t, int64(3), clock.Calls())
}

func TestStepClock_Reset(t *testing.T) {
	clock := NewStepClock(time.Time{}, time.Second)
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, int64(0), clock.Calls())
	assert.Equal(t, DefaultEpoch, clock.Now())
}

func TestStepClock_ThreadSafe(t *testing.T) {
	clock := NewStepClock(time.Time{}, time.Millisecond)
	const goroutines = 50
	const calls = 100

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[time.Time]bool, goroutines*calls)
	)
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				now := clock.Now()
				mu.Lock()
				seen[now] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, goroutines*calls, "every instant is unique")
}

func TestFixedRequestIDGenerator(t *testing.T) {
	assert.Equal(t, "req-7", NewFixedRequestIDGenerator("req-7").Generate())
	assert.Equal(t, "req-7", NewFixedRequestIDGenerator("req-7").Generate())
	assert.Equal(t, "test-request", NewFixedRequestIDGenerator("").Generate())
}
