package models

import (
	"time"
	"unicode/utf8"
)

type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeAudio ContentType = "audio"
	ContentTypePDF   ContentType = "pdf"
)

func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeText, ContentTypeImage, ContentTypeAudio, ContentTypePDF:
		return true
	}
	return false
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

const (
	// TombstoneContent replaces the payload of a soft-deleted message.
	TombstoneContent     = "This message was deleted"
	TombstoneContentType = ContentTypeText

	previewMaxRunes = 80
)

type Conversation struct {
	ID                     int64           `json:"id"`
	UserID                 int64           `json:"userId"`
	ExpertID               int64           `json:"expertId"`
	LastMessage            string          `json:"lastMessage"`
	LastMessageAt          *time.Time      `json:"lastMessageAt,omitempty"`
	LastMessageSenderID    *int64          `json:"lastMessageSenderId,omitempty"`
	LastMessageSenderModel ParticipantKind `json:"lastMessageSenderModel,omitempty"`
	LastMessageStatus      MessageStatus   `json:"lastMessageStatus"`
	UserUnreadCount        int             `json:"userUnreadCount"`
	ExpertUnreadCount      int             `json:"expertUnreadCount"`
	IsActive               bool            `json:"isActive"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
}

// Participant returns the conversation-side reference for the given
// identity space.
func (c *Conversation) Participant(kind ParticipantKind) Participant {
	if kind == KindExpert {
		return Participant{Kind: KindExpert, ID: c.ExpertID}
	}
	return Participant{Kind: KindUser, ID: c.UserID}
}

// Counterpart resolves the other side of the thread relative to p, or
// false when p is not a participant at all.
func (c *Conversation) Counterpart(p Participant) (Participant, bool) {
	switch {
	case p.Kind == KindUser && p.ID == c.UserID:
		return Participant{Kind: KindExpert, ID: c.ExpertID}, true
	case p.Kind == KindExpert && p.ID == c.ExpertID:
		return Participant{Kind: KindUser, ID: c.UserID}, true
	}
	return Participant{}, false
}

// UnreadFor reads the counter owned by the given side.
func (c *Conversation) UnreadFor(kind ParticipantKind) int {
	if kind == KindExpert {
		return c.ExpertUnreadCount
	}
	return c.UserUnreadCount
}

type Message struct {
	ID             int64           `json:"id"`
	ConversationID int64           `json:"conversationId"`
	SenderID       int64           `json:"senderId"`
	SenderModel    ParticipantKind `json:"senderModel"`
	Content        string          `json:"content"`
	ContentType    ContentType     `json:"contentType"`
	ReplyTo        *int64          `json:"replyTo,omitempty"`
	Reply          *ReplyPreview   `json:"reply,omitempty"`
	ReadBy         []string        `json:"readBy"`
	IsDeleted      bool            `json:"isDeleted"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (m *Message) Sender() Participant {
	return Participant{Kind: m.SenderModel, ID: m.SenderID}
}

func (m *Message) ReadByParticipant(p Participant) bool {
	token := p.Token()
	for _, entry := range m.ReadBy {
		if entry == token {
			return true
		}
	}
	return false
}

// ReplyPreview is the shallow projection resolved for replyTo targets.
// It deliberately carries no id chain so payload size stays bounded;
// a deleted target projects its tombstone fields.
type ReplyPreview struct {
	Content     string          `json:"content"`
	ContentType ContentType     `json:"contentType"`
	SenderModel ParticipantKind `json:"senderModel"`
}

// PreviewText computes the denormalized sidebar preview for a message:
// non-text payloads carry URLs, so they are substituted with a
// content-type label; text is truncated.
func PreviewText(contentType ContentType, content string) string {
	switch contentType {
	case ContentTypeAudio:
		return "\U0001F3A4 Audio Message"
	case ContentTypeImage:
		return "\U0001F4F7 Image"
	case ContentTypePDF:
		return "\U0001F4C4 Document"
	}
	if utf8.RuneCountInString(content) <= previewMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewMaxRunes]) + "…"
}

type ConversationSummary struct {
	Conversation
	// UnreadCount is the viewer-side counter, resolved per request.
	UnreadCount int `json:"unreadCount"`
}
