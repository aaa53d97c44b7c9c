package chatclient

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// typingIdle mirrors the gateway's idle timeout: an indicator that is
// never renewed goes stale on its own, even if the stopTyping event is
// lost in transit.
const typingIdle = 2 * time.Second

// Entry is one row of the open thread: either a server-confirmed
// message or a local optimistic send awaiting its echo.
type Entry struct {
	Message     Message
	Status      Status
	ClientToken string
}

// Thread is the state machine for one open conversation. Every
// mutation serializes on one lock, so gateway events and local sends
// can arrive from any goroutine.
type Thread struct {
	mu             sync.Mutex
	conversationID int64
	self           Identity
	entries        []Entry
	typing         map[string]time.Time
	peerOnline     bool
	peerLastSeen   *time.Time

	now func() time.Time
}

func NewThread(conversationID int64, self Identity) *Thread {
	return &Thread{
		conversationID: conversationID,
		self:           self,
		typing:         make(map[string]time.Time),
		now:            time.Now,
	}
}

// Load seeds the thread from a message-history fetch, dropping any
// previous state except unconfirmed local sends, which are re-queued
// at the tail.
func (t *Thread) Load(history []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pending []Entry
	for _, entry := range t.entries {
		if entry.Status == StatusSending {
			pending = append(pending, entry)
		}
	}

	t.entries = make([]Entry, 0, len(history)+len(pending))
	for _, message := range history {
		t.entries = append(t.entries, Entry{Message: message, Status: StatusSent})
	}
	t.entries = append(t.entries, pending...)
}

// Send synthesizes the optimistic local entry and returns the event to
// write to the socket. The entry keeps its list position when the echo
// replaces it.
func (t *Thread) Send(content, contentType string, replyTo *int64) OutboundEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	if contentType == "" {
		contentType = "text"
	}
	token := uuid.NewString()

	t.entries = append(t.entries, Entry{
		Message: Message{
			ConversationID: t.conversationID,
			SenderID:       t.self.ID,
			SenderModel:    t.self.Model,
			Content:        content,
			ContentType:    contentType,
			ReplyTo:        replyTo,
			CreatedAt:      t.now(),
		},
		Status:      StatusSending,
		ClientToken: token,
	})

	return OutboundEvent{
		Event:          "send_message",
		ConversationID: t.conversationID,
		SenderID:       t.self.ID,
		SenderModel:    t.self.Model,
		Content:        content,
		ContentType:    contentType,
		ReplyTo:        replyTo,
		ClientToken:    token,
	}
}

// Apply folds one gateway event into the thread.
func (t *Thread) Apply(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Event {
	case "receive_message":
		t.applyMessage(ev)
	case "send_failed":
		t.applySendFailed(ev)
	case "messagesRead":
		t.applyMessagesRead(ev)
	case "messageDeleted":
		t.applyMessageDeleted(ev)
	case "typing":
		if ev.ConversationID == t.conversationID {
			t.typing[typerKey(ev.TyperModel, ev.TyperID)] = t.now().Add(typingIdle)
		}
	case "stopTyping":
		if ev.ConversationID == t.conversationID {
			delete(t.typing, typerKey(ev.TyperModel, ev.TyperID))
		}
	case "userStatusChanged":
		if ev.IsOnline != nil {
			t.peerOnline = *ev.IsOnline
		}
		t.peerLastSeen = ev.LastSeen
	}
}

func (t *Thread) applyMessage(ev Event) {
	if ev.Message == nil || ev.Message.ConversationID != t.conversationID {
		return
	}
	message := *ev.Message

	// A message from the typer implicitly ends their typing indicator.
	delete(t.typing, typerKey(message.SenderModel, message.SenderID))

	if t.self.matches(message.SenderID, message.SenderModel) {
		// Echo of an own send: replace the optimistic entry in place,
		// never append a duplicate.
		if idx := t.pendingIndex(ev.ClientToken, message); idx >= 0 {
			t.entries[idx] = Entry{
				Message:     message,
				Status:      StatusSent,
				ClientToken: ev.ClientToken,
			}
			return
		}
	}

	// Foreign message, or an echo whose pending entry is already gone
	// (e.g. after a reload): append unless the id is already present.
	for _, entry := range t.entries {
		if entry.Message.ID != 0 && entry.Message.ID == message.ID {
			return
		}
	}
	t.entries = append(t.entries, Entry{Message: message, Status: StatusSent})
}

// pendingIndex matches an echo to its optimistic entry: exact
// clientToken first, content equality as the legacy fallback when the
// token is missing.
func (t *Thread) pendingIndex(clientToken string, message Message) int {
	if clientToken != "" {
		for i, entry := range t.entries {
			if entry.Status == StatusSending && entry.ClientToken == clientToken {
				return i
			}
		}
		return -1
	}
	for i, entry := range t.entries {
		if entry.Status == StatusSending &&
			entry.Message.Content == message.Content &&
			entry.Message.ContentType == message.ContentType {
			return i
		}
	}
	return -1
}

func (t *Thread) applySendFailed(ev Event) {
	for i, entry := range t.entries {
		if entry.Status == StatusSending && entry.ClientToken == ev.ClientToken {
			t.entries[i].Status = StatusFailed
			return
		}
	}
}

func (t *Thread) applyMessagesRead(ev Event) {
	if ev.ConversationID != t.conversationID {
		return
	}
	reader := typerKey(ev.ReaderModel, ev.ReaderID)
	for i := range t.entries {
		entry := &t.entries[i]
		if !t.self.matches(entry.Message.SenderID, entry.Message.SenderModel) {
			continue
		}
		if !containsToken(entry.Message.ReadBy, reader) {
			entry.Message.ReadBy = append(entry.Message.ReadBy, reader)
		}
	}
}

func (t *Thread) applyMessageDeleted(ev Event) {
	for i := range t.entries {
		if t.entries[i].Message.ID == ev.MessageID {
			t.entries[i].Message.IsDeleted = true
			t.entries[i].Message.Content = tombstoneContent
			t.entries[i].Message.ContentType = tombstoneContentType
			return
		}
	}
}

// Entries returns a snapshot of the thread in display order.
func (t *Thread) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make([]Entry, len(t.entries))
	copy(snapshot, t.entries)
	return snapshot
}

// PeerTyping reports whether any non-stale typing indicator is live.
func (t *Thread) PeerTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, deadline := range t.typing {
		if deadline.After(now) {
			return true
		}
		delete(t.typing, key)
	}
	return false
}

// PeerPresence reports the last observed presence of the counterpart.
func (t *Thread) PeerPresence() (bool, *time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peerOnline, t.peerLastSeen
}

func typerKey(model string, id int64) string {
	return model + ":" + strconv.FormatInt(id, 10)
}

func containsToken(tokens []string, token string) bool {
	for _, candidate := range tokens {
		if candidate == token {
			return true
		}
	}
	return false
}
