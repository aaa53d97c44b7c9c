package services

import (
	"sync"
	"testing"
)

func TestConversationLocksSerializeSameKey(t *testing.T) {
	locks := newConversationLocks()

	// A non-atomic read-modify-write counter would lose increments
	// without the per-conversation lock.
	const workers = 50
	counter := 0

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			release := locks.Acquire(7)
			defer release()
			counter++
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("lost increments: counter = %d, want %d", counter, workers)
	}
}

func TestConversationLocksReleaseEntries(t *testing.T) {
	locks := newConversationLocks()

	release := locks.Acquire(1)
	releaseOther := locks.Acquire(2)
	release()
	releaseOther()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Fatalf("expected lock table to be empty, got %d entries", len(locks.locks))
	}
}
