// Package chatclient is the consumer-side state machine for the chat
// gateway: it merges optimistic local sends with server-confirmed
// echoes, tracks delivery state, and keeps a sidebar consistent with
// an open thread. It speaks the gateway's JSON wire contract and
// nothing else, so it can back any Go client.
package chatclient

import "time"

// Message mirrors the persisted message shape the gateway emits.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	SenderID       int64     `json:"senderId"`
	SenderModel    string    `json:"senderModel"`
	Content        string    `json:"content"`
	ContentType    string    `json:"contentType"`
	ReplyTo        *int64    `json:"replyTo,omitempty"`
	ReadBy         []string  `json:"readBy"`
	IsDeleted      bool      `json:"isDeleted"`
	CreatedAt      time.Time `json:"createdAt"`
}

const (
	tombstoneContent     = "This message was deleted"
	tombstoneContentType = "text"
)

// Event is the gateway's outbound envelope as seen by a client.
type Event struct {
	Event          string     `json:"event"`
	ConversationID int64      `json:"conversationId,omitempty"`
	Message        *Message   `json:"message,omitempty"`
	ClientToken    string     `json:"clientToken,omitempty"`
	SenderID       int64      `json:"senderId,omitempty"`
	SenderModel    string     `json:"senderModel,omitempty"`
	ReceiverID     int64      `json:"receiverId,omitempty"`
	Content        string     `json:"content,omitempty"`
	ContentType    string     `json:"contentType,omitempty"`
	MessageID      int64      `json:"messageId,omitempty"`
	ReaderID       int64      `json:"readerId,omitempty"`
	ReaderModel    string     `json:"readerModel,omitempty"`
	TyperID        int64      `json:"typerId,omitempty"`
	TyperModel     string     `json:"typerModel,omitempty"`
	UserID         int64      `json:"userId,omitempty"`
	UserModel      string     `json:"userModel,omitempty"`
	IsOnline       *bool      `json:"isOnline,omitempty"`
	LastSeen       *time.Time `json:"lastSeen,omitempty"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// OutboundEvent is what the client writes to the socket. The
// clientToken is echoed back unchanged by the gateway so the
// optimistic entry can be matched exactly, not by content equality.
type OutboundEvent struct {
	Event          string `json:"event"`
	ConversationID int64  `json:"conversationId"`
	SenderID       int64  `json:"senderId,omitempty"`
	SenderModel    string `json:"senderModel,omitempty"`
	ReceiverID     int64  `json:"receiverId,omitempty"`
	Content        string `json:"content,omitempty"`
	ContentType    string `json:"contentType,omitempty"`
	ReplyTo        *int64 `json:"replyTo,omitempty"`
	ClientToken    string `json:"clientToken,omitempty"`
	MessageID      int64  `json:"messageId,omitempty"`
}

// Identity is the viewer's own participant reference.
type Identity struct {
	ID    int64
	Model string
}

func (i Identity) matches(senderID int64, senderModel string) bool {
	return i.ID == senderID && i.Model == senderModel
}
