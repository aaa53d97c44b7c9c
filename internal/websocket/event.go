package chatws

import (
	"encoding/json"
	"time"

	"github.com/davood-kh/ExpertConnectBack/internal/models"
)

// Wire event names. Clients depend on these exact strings, as they do
// on the payload field names below.
const (
	EventJoinRoom    = "join_room"
	EventSendMessage = "send_message"
	EventMarkAsRead  = "markAsRead"
	EventDeleteMsg   = "deleteMessage"
	EventTyping      = "typing"
	EventStopTyping  = "stopTyping"

	EventReceiveMessage       = "receive_message"
	EventReceiveDirectMessage = "receiveDirectMessage"
	EventMessagesRead         = "messagesRead"
	EventMessageDeleted       = "messageDeleted"
	EventUserStatusChanged    = "userStatusChanged"
	EventSendFailed           = "send_failed"
	EventError                = "error"
)

// InboundEvent is the envelope read off a client connection. senderId
// and senderModel are part of the contract but are never trusted; the
// connection's authenticated identity wins.
type InboundEvent struct {
	Event          string             `json:"event"`
	ConversationID int64              `json:"conversationId,omitempty"`
	SenderID       int64              `json:"senderId,omitempty"`
	SenderModel    string             `json:"senderModel,omitempty"`
	ReceiverID     int64              `json:"receiverId,omitempty"`
	Content        string             `json:"content,omitempty"`
	ContentType    models.ContentType `json:"contentType,omitempty"`
	ReplyTo        *int64             `json:"replyTo,omitempty"`
	ClientToken    string             `json:"clientToken,omitempty"`
	MessageID      int64              `json:"messageId,omitempty"`
}

// Event is the envelope written to client connections.
type Event struct {
	Event          string                 `json:"event"`
	ConversationID int64                  `json:"conversationId,omitempty"`
	Message        *models.Message        `json:"message,omitempty"`
	ClientToken    string                 `json:"clientToken,omitempty"`
	SenderID       int64                  `json:"senderId,omitempty"`
	SenderModel    models.ParticipantKind `json:"senderModel,omitempty"`
	ReceiverID     int64                  `json:"receiverId,omitempty"`
	Content        string                 `json:"content,omitempty"`
	ContentType    models.ContentType     `json:"contentType,omitempty"`
	MessageID      int64                  `json:"messageId,omitempty"`
	ReaderID       int64                  `json:"readerId,omitempty"`
	ReaderModel    models.ParticipantKind `json:"readerModel,omitempty"`
	TyperID        int64                  `json:"typerId,omitempty"`
	TyperModel     models.ParticipantKind `json:"typerModel,omitempty"`
	UserID         int64                  `json:"userId,omitempty"`
	UserModel      models.ParticipantKind `json:"userModel,omitempty"`
	IsOnline       *bool                  `json:"isOnline,omitempty"`
	LastSeen       *time.Time             `json:"lastSeen,omitempty"`
	SentAt         *time.Time             `json:"sentAt,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
}

func (e *Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

func presenceEvent(p models.Participant, status models.Presence) *Event {
	online := status.IsOnline
	return &Event{
		Event:     EventUserStatusChanged,
		UserID:    p.ID,
		UserModel: p.Kind,
		IsOnline:  &online,
		LastSeen:  status.LastSeen,
	}
}
