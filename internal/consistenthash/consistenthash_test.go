package consistenthash

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test 1: Basic functionality - does it create without crashing?
func TestNewRingLocker(t *testing.T) {
	rl := NewDefaultRingLocker(16)

	require.NotNil(t, rl)
	assert.Len(t, rl.stripes, 16)
	assert.Len(t, rl.ring.GetMembers(), 16)
}

// Test 2: Same key always maps to same stripe (consistency)
func TestStripeForKey_Consistency(t *testing.T) {
	rl := NewDefaultRingLocker(16)

	testKeys := []string{
		"plan_12xvxc345ssdsds-508",
		"plan_27283xvx9asdff-504",
		"plan_abc",
		"plan_abc_linkedPlanServices",
	}

	for _, key := range testKeys {
		stripe1 := rl.StripeForKey(key)
		stripe2 := rl.StripeForKey(key)
		stripe3 := NewDefaultRingLocker(16).StripeForKey(key)

		assert.Equal(t, stripe1, stripe2, key)
		assert.Equal(t, stripe1, stripe3, "a fresh ring with the same stripes must agree for %s", key)
		assert.Less(t, stripe1, uint64(16))
	}
}

// Test 3: Every ring partition has exactly one owner
func TestStripeStats_CoverAllPartitions(t *testing.T) {
	rl := NewDefaultRingLocker(8)

	stats := rl.StripeStats()
	assert.Len(t, stats, 8)

	total := 0
	for _, owned := range stats {
		total += owned
	}
	assert.Equal(t, 271, total)
}

// Test 4: Keys spread over more than one stripe
func TestStripeForKey_Distribution(t *testing.T) {
	rl := NewDefaultRingLocker(8)

	used := map[uint64]bool{}
	for i := 0; i < 200; i++ {
		used[rl.StripeForKey(fmt.Sprintf("plan_%d", i))] = true
	}
	assert.Greater(t, len(used), 1)
}

// Test 5: Degenerate sizes are clamped
func TestNewRingLocker_Clamp(t *testing.T) {
	rl := NewRingLocker(0, 0, 20)

	assert.Len(t, rl.stripes, 1)
	assert.Equal(t, uint64(0), rl.StripeForKey("anything"))
}

// Test 6: Lock serialises writers on the same key
func TestLock_Exclusive(t *testing.T) {
	rl := NewDefaultRingLocker(4)

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := rl.Lock("plan_abc")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

// Test 7: Readers share a stripe, a writer waits for them
func TestRLock_Shared(t *testing.T) {
	rl := NewDefaultRingLocker(4)

	unlock1 := rl.RLock("plan_abc")
	unlock2 := rl.RLock("plan_abc")

	acquired := make(chan struct{})
	go func() {
		unlock := rl.Lock("plan_abc")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("writer acquired the lock while readers held it")
	case <-time.After(20 * time.Millisecond):
	}

	unlock1()
	unlock2()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired the lock")
	}
}
