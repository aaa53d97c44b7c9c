package services

import "sync"

// conversationLocks serializes send processing per conversation id so
// the preview update and unread increment for one thread never
// interleave across two concurrent sends. Entries are reference
// counted and dropped once the last holder releases.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[int64]*lockEntry
}

type lockEntry struct {
	sync.Mutex
	refs int
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[int64]*lockEntry)}
}

// Acquire blocks until the caller holds the conversation's lock and
// returns the release func.
func (l *conversationLocks) Acquire(conversationID int64) func() {
	l.mu.Lock()
	entry, ok := l.locks[conversationID]
	if !ok {
		entry = &lockEntry{}
		l.locks[conversationID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()

	return func() {
		entry.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, conversationID)
		}
		l.mu.Unlock()
	}
}
