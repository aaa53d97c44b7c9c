// Package presence tracks per-participant online state and last-seen
// timestamps, independent of any single conversation. Semantics are
// last-writer-wins: the most recent transition observed by the tracker
// wins, and a participant with several live connections stays online
// until the last one closes.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/davood-kh/ExpertConnectBack/internal/models"
)

type Tracker interface {
	// SetOnline records one more live connection for p.
	SetOnline(ctx context.Context, p models.Participant) error
	// SetOffline records one connection ending; last-seen is written
	// only when it was the final connection.
	SetOffline(ctx context.Context, p models.Participant, lastSeen time.Time) error
	Get(ctx context.Context, p models.Participant) (models.Presence, error)
}

// MemoryTracker keeps presence in process memory. It backs single
// instance deployments and tests; multi-instance deployments use
// RedisTracker so all gateways observe the same state.
type MemoryTracker struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	connections int
	lastSeen    time.Time
	hasLastSeen bool
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{entries: make(map[string]*memoryEntry)}
}

func (t *MemoryTracker) SetOnline(_ context.Context, p models.Participant) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[p.Token()]
	if !ok {
		entry = &memoryEntry{}
		t.entries[p.Token()] = entry
	}
	entry.connections++
	return nil
}

func (t *MemoryTracker) SetOffline(_ context.Context, p models.Participant, lastSeen time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[p.Token()]
	if !ok {
		entry = &memoryEntry{}
		t.entries[p.Token()] = entry
	}
	if entry.connections > 0 {
		entry.connections--
	}
	if entry.connections == 0 {
		entry.lastSeen = lastSeen
		entry.hasLastSeen = true
	}
	return nil
}

func (t *MemoryTracker) Get(_ context.Context, p models.Participant) (models.Presence, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[p.Token()]
	if !ok {
		return models.Presence{}, nil
	}

	status := models.Presence{IsOnline: entry.connections > 0}
	if entry.hasLastSeen {
		seen := entry.lastSeen
		status.LastSeen = &seen
	}
	return status, nil
}
