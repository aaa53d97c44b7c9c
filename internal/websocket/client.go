package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/davood-kh/ExpertConnectBack/internal/models"
	"github.com/davood-kh/ExpertConnectBack/internal/services"
	websocket "github.com/gofiber/contrib/websocket"
)

// Conn is the slice of the websocket connection the gateway needs.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ChatService is the store-facing surface the gateway drives. Every
// call persists before the caller broadcasts anything.
type ChatService interface {
	GetConversation(ctx context.Context, actor models.Participant, conversationID int64) (*models.Conversation, error)
	SendMessage(ctx context.Context, actor models.Participant, conversationID int64, content string, contentType models.ContentType, replyTo *int64) (*services.ChatDelivery, error)
	MarkAsRead(ctx context.Context, actor models.Participant, conversationID int64) error
	DeleteMessage(ctx context.Context, actor models.Participant, conversationID int64, messageID int64) error
}

type Client struct {
	hub         *Hub
	conn        Conn
	participant models.Participant

	// mu guards send against a close racing ReadPump's writes. The
	// hub goroutine is the only closer; once closed is set, writes
	// are discarded.
	mu     sync.Mutex
	closed bool
	send   chan []byte

	// room is the at-most-one active conversation room; owned by the
	// hub goroutine.
	room int64
}

func NewClient(hub *Hub, conn Conn, participant models.Participant) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		participant: participant,
		send:        make(chan []byte, 32),
	}
}

func (c *Client) peerOf(pair [2]models.Participant) (models.Participant, bool) {
	switch {
	case pair[0].Equal(c.participant):
		return pair[1], true
	case pair[1].Equal(c.participant):
		return pair[0], true
	}
	return models.Participant{}, false
}

// ReadPump consumes inbound events until the connection drops. Each
// handler runs on this goroutine, so one slow store call never stalls
// the hub loop or other connections.
func (c *Client) ReadPump(service ChatService) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var in InboundEvent
		if err := json.Unmarshal(payload, &in); err != nil {
			c.writeError("invalid event payload")
			continue
		}

		switch in.Event {
		case EventJoinRoom:
			c.handleJoin(service, in)
		case EventSendMessage:
			c.handleSend(service, in)
		case EventMarkAsRead:
			c.handleMarkAsRead(service, in)
		case EventDeleteMsg:
			c.handleDelete(service, in)
		case EventTyping, EventStopTyping:
			c.handleTyping(in)
		default:
			c.writeError("unsupported event")
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// handleJoin attaches the connection to a conversation room after
// authorizing membership. Joining never clears unread counters; that
// takes an explicit markAsRead.
func (c *Client) handleJoin(service ChatService, in InboundEvent) {
	conversation, err := service.GetConversation(context.Background(), c.participant, in.ConversationID)
	if err != nil {
		c.writeError(reasonFor(err))
		return
	}

	pair := [2]models.Participant{
		conversation.Participant(models.KindUser),
		conversation.Participant(models.KindExpert),
	}
	c.hub.Join(c, conversation.ID, pair)
}

func (c *Client) handleSend(service ChatService, in InboundEvent) {
	if in.SenderID != 0 && in.SenderID != c.participant.ID {
		c.writeError("sender does not match connection identity")
		return
	}

	delivery, err := service.SendMessage(
		context.Background(),
		c.participant,
		in.ConversationID,
		in.Content,
		in.ContentType,
		in.ReplyTo,
	)
	if err != nil {
		// Nothing was persisted (or the write was never acknowledged),
		// so nothing is broadcast; the sender's optimistic entry must
		// surface as failed instead of sticking in "sending".
		c.writeEvent(&Event{
			Event:          EventSendFailed,
			ConversationID: in.ConversationID,
			ClientToken:    in.ClientToken,
			Reason:         reasonFor(err),
		})
		return
	}

	message := delivery.Message
	c.hub.Broadcast(&envelope{
		scope: scopeRoom,
		room:  message.ConversationID,
		event: &Event{
			Event:          EventReceiveMessage,
			ConversationID: message.ConversationID,
			Message:        message,
			ClientToken:    in.ClientToken,
		},
	})

	// Lightweight sidebar update on the receiver's personal channel,
	// delivered whether or not they have the room open.
	sentAt := message.CreatedAt
	c.hub.Broadcast(&envelope{
		scope: scopePersonal,
		user:  delivery.Receiver.Token(),
		event: &Event{
			Event:          EventReceiveDirectMessage,
			ConversationID: message.ConversationID,
			SenderID:       message.SenderID,
			SenderModel:    message.SenderModel,
			ReceiverID:     delivery.Receiver.ID,
			Content:        delivery.PreviewText,
			ContentType:    message.ContentType,
			SentAt:         &sentAt,
		},
	})
}

func (c *Client) handleMarkAsRead(service ChatService, in InboundEvent) {
	if err := service.MarkAsRead(context.Background(), c.participant, in.ConversationID); err != nil {
		c.writeError(reasonFor(err))
		return
	}

	c.hub.Broadcast(&envelope{
		scope: scopeRoom,
		room:  in.ConversationID,
		event: &Event{
			Event:          EventMessagesRead,
			ConversationID: in.ConversationID,
			ReaderID:       c.participant.ID,
			ReaderModel:    c.participant.Kind,
		},
	})
}

func (c *Client) handleDelete(service ChatService, in InboundEvent) {
	if err := service.DeleteMessage(context.Background(), c.participant, in.ConversationID, in.MessageID); err != nil {
		c.writeError(reasonFor(err))
		return
	}

	c.hub.Broadcast(&envelope{
		scope: scopeRoom,
		room:  in.ConversationID,
		event: &Event{
			Event:          EventMessageDeleted,
			ConversationID: in.ConversationID,
			MessageID:      in.MessageID,
		},
	})
}

// handleTyping is pure ephemeral fan-out; nothing is persisted and the
// typer's own connections are excluded.
func (c *Client) handleTyping(in InboundEvent) {
	c.hub.Broadcast(&envelope{
		scope:   scopeRoom,
		room:    in.ConversationID,
		exclude: c.participant.Token(),
		event: &Event{
			Event:          in.Event,
			ConversationID: in.ConversationID,
			TyperID:        c.participant.ID,
			TyperModel:     c.participant.Kind,
		},
	})
}

func (c *Client) writeError(reason string) {
	c.writeEvent(&Event{Event: EventError, Reason: reason})
}

func (c *Client) writeEvent(event *Event) {
	payload, err := event.encode()
	if err != nil {
		log.Printf("chat gateway encode %s: %v", event.Event, err)
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.hub.Unregister(c)
	}
}

// trySend queues a payload for WritePump. Returns false when the
// buffer is full; a closed client swallows the payload and reports
// success so the caller doesn't evict twice.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend is called by the hub goroutine exactly once, when the
// client leaves the registry. After it returns, writeEvent and
// trySend become no-ops.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// reasonFor maps service errors to client-safe reasons. Errors are
// reported only to the originating connection; broadcasts to other
// room members are unaffected.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, services.ErrForbidden):
		return "forbidden"
	case errors.Is(err, services.ErrNotFound):
		return "not found"
	case errors.Is(err, services.ErrInvalidInput):
		return "invalid input"
	case errors.Is(err, services.ErrStoreUnavailable):
		return "store unavailable, retry"
	default:
		return "internal error"
	}
}
