package repository

import (
	"context"
	"time"

	"github.com/davood-kh/ExpertConnectBack/internal/models"
)

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `
	id, user_id, expert_id,
	last_message, last_message_at, last_message_sender_id, last_message_sender_model,
	last_message_status, user_unread_count, expert_unread_count,
	is_active, created_at, updated_at
`

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	var conversation models.Conversation
	var senderModel *string
	err := row.Scan(
		&conversation.ID,
		&conversation.UserID,
		&conversation.ExpertID,
		&conversation.LastMessage,
		&conversation.LastMessageAt,
		&conversation.LastMessageSenderID,
		&senderModel,
		&conversation.LastMessageStatus,
		&conversation.UserUnreadCount,
		&conversation.ExpertUnreadCount,
		&conversation.IsActive,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if senderModel != nil {
		conversation.LastMessageSenderModel = models.ParticipantKind(*senderModel)
	}
	return &conversation, nil
}

// CreateOrGet returns the single conversation for a (user, expert)
// pair, creating it lazily on first contact. The unique index on
// (user_id, expert_id) makes concurrent first sends converge on one
// row.
func (r *ConversationRepository) CreateOrGet(
	ctx context.Context,
	userID int64,
	expertID int64,
) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (user_id, expert_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, expert_id)
		DO UPDATE SET updated_at = conversations.updated_at
		RETURNING ` + conversationColumns

	return scanConversation(r.db.QueryRow(ctx, query, userID, expertID))
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1
	`
	return scanConversation(r.db.QueryRow(ctx, query, conversationID))
}

// GetByIDForParticipant visibility-scopes the lookup: a row is only
// returned when p is one of the two parties.
func (r *ConversationRepository) GetByIDForParticipant(
	ctx context.Context,
	conversationID int64,
	p models.Participant,
) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1
		  AND ((($2 = 'User') AND user_id = $3) OR (($2 = 'Expert') AND expert_id = $3))
	`
	return scanConversation(r.db.QueryRow(ctx, query, conversationID, string(p.Kind), p.ID))
}

func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	p models.Participant,
) ([]models.ConversationSummary, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE is_active = TRUE
		  AND ((($1 = 'User') AND user_id = $2) OR (($1 = 'Expert') AND expert_id = $2))
		ORDER BY last_message_at DESC NULLS LAST, id DESC
	`

	rows, err := r.db.Query(ctx, query, string(p.Kind), p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, models.ConversationSummary{
			Conversation: *conversation,
			UnreadCount:  conversation.UnreadFor(p.Kind),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

// MessagePreview carries the denormalized fields applied to a
// conversation after a message lands.
type MessagePreview struct {
	Text   string
	At     time.Time
	Sender models.Participant
	Status models.MessageStatus
}

// ApplyMessagePreview and IncrementUnread are issued together inside
// one transaction by the chat service; each is a single relative
// UPDATE so concurrent sends cannot lose writes.
func (r *ConversationRepository) ApplyMessagePreview(
	ctx context.Context,
	conversationID int64,
	preview MessagePreview,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message = $2,
		    last_message_at = $3,
		    last_message_sender_id = $4,
		    last_message_sender_model = $5,
		    last_message_status = $6,
		    updated_at = NOW()
		WHERE id = $1
	`, conversationID, preview.Text, preview.At, preview.Sender.ID, string(preview.Sender.Kind), string(preview.Status))
	return err
}

// IncrementUnread bumps the counter owned by the given side with an
// atomic relative update, never a read-modify-write.
func (r *ConversationRepository) IncrementUnread(
	ctx context.Context,
	conversationID int64,
	forKind models.ParticipantKind,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET user_unread_count = user_unread_count + CASE WHEN $2 = 'User' THEN 1 ELSE 0 END,
		    expert_unread_count = expert_unread_count + CASE WHEN $2 = 'Expert' THEN 1 ELSE 0 END
		WHERE id = $1
	`, conversationID, string(forKind))
	return err
}

// ClearUnread zeroes only the given side's counter.
func (r *ConversationRepository) ClearUnread(
	ctx context.Context,
	conversationID int64,
	forKind models.ParticipantKind,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET user_unread_count = CASE WHEN $2 = 'User' THEN 0 ELSE user_unread_count END,
		    expert_unread_count = CASE WHEN $2 = 'Expert' THEN 0 ELSE expert_unread_count END
		WHERE id = $1
	`, conversationID, string(forKind))
	return err
}

// MarkLastMessageRead flips the preview status to read, but only when
// the last message was authored by the reader's counterpart.
func (r *ConversationRepository) MarkLastMessageRead(
	ctx context.Context,
	conversationID int64,
	reader models.Participant,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message_status = 'read'
		WHERE id = $1
		  AND last_message_sender_id IS NOT NULL
		  AND NOT (last_message_sender_model = $2 AND last_message_sender_id = $3)
	`, conversationID, string(reader.Kind), reader.ID)
	return err
}

// UnreadTotal aggregates the participant's own-side counters across
// all threads; consumed by the notification badge.
func (r *ConversationRepository) UnreadTotal(
	ctx context.Context,
	p models.Participant,
) (int, error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN $1 = 'User' THEN user_unread_count ELSE expert_unread_count END), 0)
		FROM conversations
		WHERE is_active = TRUE
		  AND ((($1 = 'User') AND user_id = $2) OR (($1 = 'Expert') AND expert_id = $2))
	`
	var total int
	if err := r.db.QueryRow(ctx, query, string(p.Kind), p.ID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Deactivate soft-archives a thread; conversations are never hard
// deleted.
func (r *ConversationRepository) Deactivate(ctx context.Context, conversationID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1
	`, conversationID)
	return err
}
