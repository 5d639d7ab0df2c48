package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepClock_StartsAtEpoch(t *testing.T) {
	clock := NewClock()
	assert.Equal(t, Epoch, clock.Current())
	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
}

func TestStepClock_SetAndReset(t *testing.T) {
	clock := NewStepClock(Epoch, time.Minute)
	clock.Now()
	clock.Set(Epoch.Add(-time.Hour))
	assert.Equal(t, Epoch.Add(-time.Hour), clock.Now())

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestStepClock_ConcurrentReadsAreDistinct(t *testing.T) {
	clock := NewStepClock(Epoch, time.Millisecond)
	const n = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[time.Time]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := clock.Now()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	assert.Equal(t, Epoch.Add(n*time.Millisecond), clock.Current())
}
