package chatclient

import (
	"sort"
	"sync"
	"time"
	"unicode/utf8"
)

// Preview is one sidebar row.
type Preview struct {
	ConversationID  int64
	LastMessage     string
	LastMessageAt   time.Time
	LastSenderID    int64
	LastSenderModel string
	UnreadCount     int
}

// Sidebar keeps the conversation list consistent with gateway events
// and with the locally open thread. The unread badge reflects only the
// viewer's own-role counter; the server's summary is authoritative and
// reconciles any local optimism on the next ApplySummaries.
type Sidebar struct {
	mu    sync.Mutex
	self  Identity
	items []Preview
	open  int64
}

func NewSidebar(self Identity) *Sidebar {
	return &Sidebar{self: self}
}

// ApplySummaries replaces the list with the server's view.
func (s *Sidebar) ApplySummaries(items []Preview) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make([]Preview, len(items))
	copy(s.items, items)
	if s.open != 0 {
		// The open thread is read locally ahead of the server
		// round-trip; don't resurrect its badge from a stale summary.
		for i := range s.items {
			if s.items[i].ConversationID == s.open {
				s.items[i].UnreadCount = 0
			}
		}
	}
	s.resort()
}

// Apply folds a preview-affecting gateway event into the list.
func (s *Sidebar) Apply(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Event {
	case "receiveDirectMessage":
		item := s.itemFor(ev.ConversationID)
		item.LastMessage = ev.Content
		item.LastSenderID = ev.SenderID
		item.LastSenderModel = ev.SenderModel
		if ev.SentAt != nil {
			item.LastMessageAt = *ev.SentAt
		}
		// Messages arriving into the open thread are read in place;
		// an explicit markAsRead round-trip confirms it server-side.
		if ev.ConversationID != s.open && !s.self.matches(ev.SenderID, ev.SenderModel) {
			item.UnreadCount++
		}
		s.resort()
	case "receive_message":
		if ev.Message == nil {
			return
		}
		item := s.itemFor(ev.Message.ConversationID)
		item.LastMessage = previewFor(ev.Message.ContentType, ev.Message.Content)
		item.LastSenderID = ev.Message.SenderID
		item.LastSenderModel = ev.Message.SenderModel
		item.LastMessageAt = ev.Message.CreatedAt
		s.resort()
	}
}

// OpenThread marks a conversation as the active thread and clears its
// badge locally before the server confirmation round-trips.
func (s *Sidebar) OpenThread(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.open = conversationID
	for i := range s.items {
		if s.items[i].ConversationID == conversationID {
			s.items[i].UnreadCount = 0
		}
	}
}

func (s *Sidebar) CloseThread() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = 0
}

// Items returns the list sorted by last activity, newest first.
func (s *Sidebar) Items() []Preview {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]Preview, len(s.items))
	copy(snapshot, s.items)
	return snapshot
}

// TotalUnread is the aggregate badge across all conversations.
func (s *Sidebar) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, item := range s.items {
		total += item.UnreadCount
	}
	return total
}

const previewMaxRunes = 80

// previewFor mirrors the server-side sidebar preview for room echoes,
// which carry the raw message: non-text payloads are URLs, so a
// content-type label stands in; long text is truncated.
func previewFor(contentType, content string) string {
	switch contentType {
	case "audio":
		return "\U0001F3A4 Audio Message"
	case "image":
		return "\U0001F4F7 Image"
	case "pdf":
		return "\U0001F4C4 Document"
	}
	if utf8.RuneCountInString(content) <= previewMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewMaxRunes]) + "…"
}

func (s *Sidebar) itemFor(conversationID int64) *Preview {
	for i := range s.items {
		if s.items[i].ConversationID == conversationID {
			return &s.items[i]
		}
	}
	s.items = append(s.items, Preview{ConversationID: conversationID})
	return &s.items[len(s.items)-1]
}

// resort keeps the list ordered by lastMessageAt descending after any
// preview-affecting change. The sort is stable so ties keep their
// relative order.
func (s *Sidebar) resort() {
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.items[i].LastMessageAt.After(s.items[j].LastMessageAt)
	})
}
