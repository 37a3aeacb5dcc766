package pricing_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/pricing-engine/pricing"
)

// =============================================================================
// MUTUAL EXCLUSION
// =============================================================================

func TestLockRegistry_MutualExclusion(t *testing.T) {
	// GIVEN: 50 goroutines hammering one key
	// WHEN: Each increments a plain int under the lock
	// THEN: No increment is lost

	reg := pricing.NewLockRegistry()

	const workers = 50
	const iterations = 100

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				h := reg.Acquire("batch-1")
				counter++
				reg.Release(h)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*iterations, counter)
}

func TestLockRegistry_IndependentKeys(t *testing.T) {
	// GIVEN: One goroutine parked on key A
	// WHEN: Another goroutine acquires key B
	// THEN: It is not blocked by A's holder

	reg := pricing.NewLockRegistry()
	hA := reg.Acquire("batch-a")

	done := make(chan struct{})
	go func() {
		hB := reg.Acquire("batch-b")
		reg.Release(hB)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquire on an unrelated key blocked")
	}
	reg.Release(hA)
}

// =============================================================================
// RECLAMATION
// =============================================================================

func TestLockRegistry_ReclaimsIdleEntries(t *testing.T) {
	// GIVEN: A registry that has seen many distinct keys
	// WHEN: All locks are released
	// THEN: The map does not retain an entry per key

	reg := pricing.NewLockRegistry()

	for i := 0; i < 1000; i++ {
		h := reg.Acquire(string(rune('a'+i%26)) + "-batch")
		reg.Release(h)
	}

	assert.Equal(t, 0, reg.Len(), "registry should not grow with key churn")
}

func TestLockRegistry_NoEntryLostUnderWaiters(t *testing.T) {
	// GIVEN: Goroutines racing acquire against a releasing holder
	// WHEN: The churn settles
	// THEN: Every acquire succeeded and the registry is empty again

	reg := pricing.NewLockRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				h := reg.Acquire("contended")
				reg.Release(h)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Len())
}
