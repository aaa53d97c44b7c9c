package chatws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/davood-kh/ExpertConnectBack/internal/models"
	"github.com/davood-kh/ExpertConnectBack/internal/presence"
	"github.com/davood-kh/ExpertConnectBack/internal/services"
)

// fakeConn satisfies Conn for tests. Handlers are driven directly and
// outbound frames are read off the client send channel, so the conn
// itself does nothing.
type fakeConn struct{}

func (fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, context.Canceled }
func (fakeConn) WriteMessage(int, []byte) error    { return nil }
func (fakeConn) Close() error                      { return nil }

type sentCall struct {
	actor          models.Participant
	conversationID int64
	content        string
	contentType    models.ContentType
	replyTo        *int64
}

type stubChatService struct {
	mu           sync.Mutex
	conversation *models.Conversation

	getErr    error
	sendErr   error
	markErr   error
	deleteErr error

	nextMessageID int64
	sent          []sentCall
	marked        []models.Participant
	deleted       []int64
}

func (s *stubChatService) GetConversation(_ context.Context, actor models.Participant, conversationID int64) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.conversation == nil || s.conversation.ID != conversationID {
		return nil, services.ErrNotFound
	}
	if _, ok := s.conversation.Counterpart(actor); !ok {
		return nil, services.ErrForbidden
	}
	return s.conversation, nil
}

func (s *stubChatService) SendMessage(_ context.Context, actor models.Participant, conversationID int64, content string, contentType models.ContentType, replyTo *int64) (*services.ChatDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	receiver, ok := s.conversation.Counterpart(actor)
	if !ok {
		return nil, services.ErrForbidden
	}

	s.sent = append(s.sent, sentCall{actor: actor, conversationID: conversationID, content: content, contentType: contentType, replyTo: replyTo})
	s.nextMessageID++
	message := &models.Message{
		ID:             s.nextMessageID,
		ConversationID: conversationID,
		SenderID:       actor.ID,
		SenderModel:    actor.Kind,
		Content:        content,
		ContentType:    contentType,
		ReadBy:         []string{},
		CreatedAt:      time.Now().UTC(),
	}
	return &services.ChatDelivery{
		Conversation: s.conversation,
		Message:      message,
		Receiver:     receiver,
		PreviewText:  models.PreviewText(contentType, content),
	}, nil
}

func (s *stubChatService) MarkAsRead(_ context.Context, actor models.Participant, conversationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.marked = append(s.marked, actor)
	return nil
}

func (s *stubChatService) DeleteMessage(_ context.Context, actor models.Participant, conversationID int64, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, messageID)
	return nil
}

var (
	testUser   = models.Participant{Kind: models.KindUser, ID: 42}
	testExpert = models.Participant{Kind: models.KindExpert, ID: 8}
)

func testConversation() *models.Conversation {
	return &models.Conversation{ID: 7, UserID: testUser.ID, ExpertID: testExpert.ID, IsActive: true}
}

func newTestHub() *Hub {
	hub := NewHub(presence.NewMemoryTracker())
	hub.grace = 40 * time.Millisecond
	hub.typingIdle = 40 * time.Millisecond
	go hub.Run()
	return hub
}

func recvEvent(t *testing.T, client *Client) *Event {
	t.Helper()
	select {
	case payload, ok := <-client.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return &event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func expectSilence(t *testing.T, client *Client, wait time.Duration) {
	t.Helper()
	select {
	case payload, ok := <-client.send:
		if ok {
			t.Fatalf("unexpected event: %s", payload)
		}
	case <-time.After(wait):
	}
}

// join registers the client and attaches it to the stub conversation's
// room, consuming the presence snapshot pushed on join.
func join(t *testing.T, hub *Hub, service *stubChatService, client *Client) {
	t.Helper()
	client.handleJoin(service, InboundEvent{Event: EventJoinRoom, ConversationID: service.conversation.ID})
	snapshot := recvEvent(t, client)
	if snapshot.Event != EventUserStatusChanged {
		t.Fatalf("expected presence snapshot on join, got %s", snapshot.Event)
	}
}

func TestSendMessageFansOutToRoomAndPersonalChannel(t *testing.T) {
	hub := newTestHub()
	service := &stubChatService{conversation: testConversation()}

	expert := NewClient(hub, fakeConn{}, testExpert)
	hub.Register(expert)
	join(t, hub, service, expert)

	// The user is connected but does not have the thread open.
	user := NewClient(hub, fakeConn{}, testUser)
	hub.Register(user)

	// The user's connect reaches the expert's room as a presence delta.
	online := recvEvent(t, expert)
	if online.Event != EventUserStatusChanged || online.IsOnline == nil || !*online.IsOnline {
		t.Fatalf("expected online presence delta, got %+v", online)
	}

	expert.handleSend(service, InboundEvent{
		Event:          EventSendMessage,
		ConversationID: 7,
		Content:        "Hello",
		ContentType:    models.ContentTypeText,
		ClientToken:    "tok-1",
	})

	roomEvent := recvEvent(t, expert)
	if roomEvent.Event != EventReceiveMessage {
		t.Fatalf("expected %s, got %s", EventReceiveMessage, roomEvent.Event)
	}
	if roomEvent.ClientToken != "tok-1" {
		t.Fatalf("client token not echoed: %q", roomEvent.ClientToken)
	}
	if roomEvent.Message == nil || roomEvent.Message.Content != "Hello" || roomEvent.Message.SenderID != testExpert.ID {
		t.Fatalf("unexpected room message: %+v", roomEvent.Message)
	}

	direct := recvEvent(t, user)
	if direct.Event != EventReceiveDirectMessage {
		t.Fatalf("expected %s, got %s", EventReceiveDirectMessage, direct.Event)
	}
	if direct.Content != "Hello" || direct.SenderModel != models.KindExpert || direct.ReceiverID != testUser.ID {
		t.Fatalf("unexpected direct payload: %+v", direct)
	}
	if direct.SentAt == nil {
		t.Fatal("expected sentAt on direct payload")
	}

	service.mu.Lock()
	defer service.mu.Unlock()
	if len(service.sent) != 1 || !service.sent[0].actor.Equal(testExpert) {
		t.Fatalf("unexpected recorded sends: %+v", service.sent)
	}
}

func TestSendFailureReportsOnlyToSender(t *testing.T) {
	hub := newTestHub()
	service := &stubChatService{conversation: testConversation()}

	expert := NewClient(hub, fakeConn{}, testExpert)
	hub.Register(expert)
	join(t, hub, service, expert)

	user := NewClient(hub, fakeConn{}, testUser)
	hub.Register(user)
	recvEvent(t, expert) // user online delta
	join(t, hub, service, user)

	service.mu.Lock()
	service.sendErr = services.ErrStoreUnavailable
	service.mu.Unlock()

	expert.handleSend(service, InboundEvent{
		Event:          EventSendMessage,
		ConversationID: 7,
		Content:        "lost",
		ContentType:    models.ContentTypeText,
		ClientToken:    "tok-9",
	})

	failed := recvEvent(t, expert)
	if failed.Event != EventSendFailed {
		t.Fatalf("expected %s, got %s", EventSendFailed, failed.Event)
	}
	if failed.ClientToken != "tok-9" {
		t.Fatalf("client token not echoed on failure: %q", failed.ClientToken)
	}
	if failed.Reason == "" {
		t.Fatal("expected failure reason")
	}

	// Nothing was persisted, so the peer sees nothing.
	expectSilence(t, user, 100*time.Millisecond)
}

func TestSenderIdentityMismatchIsRejected(t *testing.T) {
	hub := newTestHub()
	service := &stubChatService{conversation: testConversation()}

	expert := NewClient(hub, fakeConn{}, testExpert)
	hub.Register(expert)
	join(t, hub, service, expert)

	expert.handleSend(service, InboundEvent{
		Event:          EventSendMessage,
		ConversationID: 7,
		SenderID:       testExpert.ID + 1,
		Content:        "spoof",
		ContentType:    models.ContentTypeText,
	})

	errEvent := recvEvent(t, expert)
	if errEvent.Event != EventError {
		t.Fatalf("expected %s, got %s", EventError, errEvent.Event)
	}
	service.mu.Lock()
	defer service.mu.Unlock()
	if len(service.sent) != 0 {
		t.Fatal("spoofed send must not reach the store")
	}
}

func TestMarkAsReadBroadcastsToRoom(t *testing.T) {
	hub := newTestHub()
	service := &stubChatService{conversation: testConversation()}

	expert := NewClient(hub, fakeConn{}, testExpert)
	hub.Register(expert)
	join(t, hub, service, expert)

	user := NewClient(hub, fakeConn{}, testUser)
	hub.Register(user)
	recvEvent(t, expert) // user online delta
	join(t, hub, service, user)

	user.handleMarkAsRead(service, InboundEvent{Event: EventMarkAsRead, ConversationID: 7})

	for _, client := range []*Client{expert, user} {
		read := recvEvent(t, client)
		if read.Event != EventMessagesRead {
			t.Fatalf("expected %s, got %s", EventMessagesRead, read.Event)
		}
		if read.ReaderID != testUser.ID || read.ReaderModel != models.KindUser {
			t.Fatalf("unexpected reader: %d %s", read.ReaderID, read.ReaderModel)
		}
	}

	service.mu.Lock()
	defer service.mu.Unlock()
	if len(service.marked) != 1 || !service.marked[0].Equal(testUser) {
		t.Fatalf("unexpected recorded reads: %+v", service.marked)
	}
}

func TestDeleteMessageBroadcastAndAuthorization(t *testing.T) {
	hub := newTestHub()
	service := &stubChatService{conversation: testConversation()}

	expert := NewClient(hub, fakeConn{}, testExpert)
	hub.Register(expert)
	join(t, hub, service, expert)

	user := NewClient(hub, fakeConn{}, testUser)
	hub.Register(user)
	recvEvent(t, expert) // user online delta
	join(t, hub, service, user)

	expert.handleDelete(service, InboundEvent{Event: EventDeleteMsg, ConversationID: 7, MessageID: 12})

	for _, client := range []*Client{expert, user} {
		deleted := recvEvent(t, client)
		if deleted.Event != EventMessageDeleted || deleted.MessageID != 12 {
			t.Fatalf("unexpected delete event: %+v", deleted)
		}
	}

	// A non-sender attempt fails at the store and surfaces only to the
	// requester.
	service.mu.Lock()
	service.deleteErr = services.ErrForbidden
	service.mu.Unlock()

	user.handleDelete(service, InboundEvent{Event: EventDeleteMsg, ConversationID: 7, MessageID: 12})
	denied := recvEvent(t, user)
	if denied.Event != EventError || denied.Reason != "forbidden" {
		t.Fatalf("unexpected denial: %+v", denied)
	}
	expectSilence(t, expert, 80*time.Millisecond)
}

func TestTypingExcludesTyperAndAutoStops(t *testing.T) {
	hub := newTestHub()
	service := &stubChatService{conversation: testConversation()}

	expert := NewClient(hub, fakeConn{}, testExpert)
	hub.Register(expert)
	join(t, hub, service, expert)

	user := NewClient(hub, fakeConn{}, testUser)
	hub.Register(user)
	recvEvent(t, expert) // user online delta
	join(t, hub, service, user)

	user.handleTyping(InboundEvent{Event: EventTyping, ConversationID: 7})

	typing := recvEvent(t, expert)
	if typing.Event != EventTyping || typing.TyperID != testUser.ID || typing.TyperModel != models.KindUser {
		t.Fatalf("unexpected typing event: %+v", typing)
	}

	// No explicit stopTyping arrives; the idle timer synthesizes one.
	stopped := recvEvent(t, expert)
	if stopped.Event != EventStopTyping || stopped.TyperID != testUser.ID {
		t.Fatalf("unexpected synthesized stop: %+v", stopped)
	}

	// The typer's own connection never sees either event.
	expectSilence(t, user, 80*time.Millisecond)
}

func TestExplicitStopTypingCancelsIdleTimer(t *testing.T) {
	hub := newTestHub()
	service := &stubChatService{conversation: testConversation()}

	expert := NewClient(hub, fakeConn{}, testExpert)
	hub.Register(expert)
	join(t, hub, service, expert)

	user := NewClient(hub, fakeConn{}, testUser)
	hub.Register(user)
	recvEvent(t, expert) // user online delta
	join(t, hub, service, user)

	user.handleTyping(InboundEvent{Event: EventTyping, ConversationID: 7})
	recvEvent(t, expert) // typing

	user.handleTyping(InboundEvent{Event: EventStopTyping, ConversationID: 7})
	stopped := recvEvent(t, expert)
	if stopped.Event != EventStopTyping {
		t.Fatalf("expected explicit stop, got %s", stopped.Event)
	}

	// The idle timer was canceled, so no duplicate stop follows.
	expectSilence(t, expert, 120*time.Millisecond)
}

func TestPresenceGoesOfflineAfterGracePeriod(t *testing.T) {
	hub := newTestHub()
	service := &stubChatService{conversation: testConversation()}

	expert := NewClient(hub, fakeConn{}, testExpert)
	hub.Register(expert)
	join(t, hub, service, expert)

	user := NewClient(hub, fakeConn{}, testUser)
	hub.Register(user)
	online := recvEvent(t, expert)
	if online.Event != EventUserStatusChanged || !*online.IsOnline {
		t.Fatalf("expected online delta, got %+v", online)
	}

	hub.Unregister(user)

	offline := recvEvent(t, expert)
	if offline.Event != EventUserStatusChanged {
		t.Fatalf("expected presence delta, got %s", offline.Event)
	}
	if offline.IsOnline != nil && *offline.IsOnline {
		t.Fatal("expected offline delta")
	}
	if offline.LastSeen == nil {
		t.Fatal("expected lastSeen on offline delta")
	}
	if offline.UserID != testUser.ID || offline.UserModel != models.KindUser {
		t.Fatalf("unexpected subject: %d %s", offline.UserID, offline.UserModel)
	}
}

func TestReconnectWithinGraceSuppressesOffline(t *testing.T) {
	hub := newTestHub()
	service := &stubChatService{conversation: testConversation()}

	expert := NewClient(hub, fakeConn{}, testExpert)
	hub.Register(expert)
	join(t, hub, service, expert)

	user := NewClient(hub, fakeConn{}, testUser)
	hub.Register(user)
	recvEvent(t, expert) // online delta

	hub.Unregister(user)
	replacement := NewClient(hub, fakeConn{}, testUser)
	hub.Register(replacement)

	// Neither an offline flap nor a redundant online delta is emitted.
	expectSilence(t, expert, 4*hub.grace)

	status, err := hub.tracker.Get(context.Background(), testUser)
	if err != nil {
		t.Fatalf("tracker.Get: %v", err)
	}
	if !status.IsOnline {
		t.Fatal("participant must remain online across a graced reconnect")
	}
}

func TestJoinDeniedForNonParticipant(t *testing.T) {
	hub := newTestHub()
	service := &stubChatService{conversation: testConversation()}

	stranger := NewClient(hub, fakeConn{}, models.Participant{Kind: models.KindUser, ID: 999})
	hub.Register(stranger)

	stranger.handleJoin(service, InboundEvent{Event: EventJoinRoom, ConversationID: 7})
	denied := recvEvent(t, stranger)
	if denied.Event != EventError || denied.Reason != "forbidden" {
		t.Fatalf("unexpected join response: %+v", denied)
	}
}

func TestSlowConsumerIsDropped(t *testing.T) {
	hub := newTestHub()
	service := &stubChatService{conversation: testConversation()}

	user := NewClient(hub, fakeConn{}, testUser)
	hub.Register(user)
	user.handleJoin(service, InboundEvent{Event: EventJoinRoom, ConversationID: 7})

	// Nothing drains user.send, so the buffer eventually overflows and
	// the hub evicts the connection instead of blocking its loop.
	for i := 0; i < 2*cap(user.send); i++ {
		hub.Broadcast(&envelope{
			scope: scopeRoom,
			room:  7,
			event: &Event{Event: EventMessagesRead, ConversationID: 7},
		})
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-user.send:
			if !ok {
				return // evicted
			}
		case <-deadline:
			t.Fatal("slow consumer was never evicted")
		}
	}
}

func TestWritesAfterEvictionAreDiscarded(t *testing.T) {
	hub := newTestHub()
	service := &stubChatService{conversation: testConversation()}

	user := NewClient(hub, fakeConn{}, testUser)
	hub.Register(user)
	user.handleJoin(service, InboundEvent{Event: EventJoinRoom, ConversationID: 7})

	for i := 0; i < 2*cap(user.send); i++ {
		hub.Broadcast(&envelope{
			scope: scopeRoom,
			room:  7,
			event: &Event{Event: EventMessagesRead, ConversationID: 7},
		})
	}

	deadline := time.After(2 * time.Second)
drain:
	for {
		select {
		case _, ok := <-user.send:
			if !ok {
				break drain
			}
		case <-deadline:
			t.Fatal("slow consumer was never evicted")
		}
	}

	// ReadPump may still be mid-frame when the hub drops the
	// connection; late writes on this connection must be swallowed,
	// not sent on the closed channel.
	user.writeError("invalid event payload")
	user.writeEvent(&Event{Event: EventMessagesRead, ConversationID: 7})
}
