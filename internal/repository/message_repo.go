package repository

import (
	"context"

	"github.com/davood-kh/ExpertConnectBack/internal/models"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append persists a new message and returns it with the server-assigned
// id and timestamp. A replyTo pointing outside the conversation, at a
// message that never existed, or at one already deleted is stored as
// NULL rather than rejected.
func (r *MessageRepository) Append(
	ctx context.Context,
	conversationID int64,
	sender models.Participant,
	content string,
	contentType models.ContentType,
	replyTo *int64,
) (*models.Message, error) {
	query := `
		INSERT INTO messages (conversation_id, sender_id, sender_model, content, content_type, reply_to)
		VALUES (
			$1, $2, $3, $4, $5,
			(SELECT id FROM messages WHERE id = $6 AND conversation_id = $1 AND NOT is_deleted)
		)
		RETURNING id, conversation_id, sender_id, sender_model, content, content_type,
		          reply_to, read_by, is_deleted, created_at
	`

	var message models.Message
	err := r.db.QueryRow(
		ctx, query,
		conversationID, sender.ID, string(sender.Kind), content, string(contentType), replyTo,
	).Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.SenderModel,
		&message.Content,
		&message.ContentType,
		&message.ReplyTo,
		&message.ReadBy,
		&message.IsDeleted,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_model, content, content_type,
		       reply_to, read_by, is_deleted, created_at
		FROM messages
		WHERE id = $1
	`

	var message models.Message
	err := r.db.QueryRow(ctx, query, messageID).Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.SenderModel,
		&message.Content,
		&message.ContentType,
		&message.ReplyTo,
		&message.ReadBy,
		&message.IsDeleted,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// ListByConversation pages through a thread in creation order and
// resolves reply targets to a shallow projection. A soft-deleted
// target naturally projects its tombstone fields; a dangling pointer
// projects nothing.
func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
	limit int,
	offset int,
) ([]models.Message, int, error) {
	totalQuery := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
	`

	var total int
	if err := r.db.QueryRow(ctx, totalQuery, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.sender_model, m.content, m.content_type,
		       m.reply_to, m.read_by, m.is_deleted, m.created_at,
		       rt.content, rt.content_type, rt.sender_model
		FROM messages m
		LEFT JOIN messages rt ON rt.id = m.reply_to
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var message models.Message
		var replyContent, replyContentType, replySenderModel *string
		if err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.SenderID,
			&message.SenderModel,
			&message.Content,
			&message.ContentType,
			&message.ReplyTo,
			&message.ReadBy,
			&message.IsDeleted,
			&message.CreatedAt,
			&replyContent,
			&replyContentType,
			&replySenderModel,
		); err != nil {
			return nil, 0, err
		}

		if replyContent != nil && replyContentType != nil && replySenderModel != nil {
			message.Reply = &models.ReplyPreview{
				Content:     *replyContent,
				ContentType: models.ContentType(*replyContentType),
				SenderModel: models.ParticipantKind(*replySenderModel),
			}
		}

		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// MarkRead appends the reader's token to every counterpart-authored
// message that does not already carry it. The containment guard makes
// re-invocation a no-op.
func (r *MessageRepository) MarkRead(
	ctx context.Context,
	conversationID int64,
	reader models.Participant,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages
		SET read_by = array_append(read_by, $2)
		WHERE conversation_id = $1
		  AND NOT (sender_model = $3 AND sender_id = $4)
		  AND NOT (read_by @> ARRAY[$2]::text[])
	`, conversationID, reader.Token(), string(reader.Kind), reader.ID)
	return err
}

// SoftDelete overwrites the payload with the tombstone. Repeating the
// call rewrites the same tombstone, so it is idempotent.
func (r *MessageRepository) SoftDelete(ctx context.Context, messageID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages
		SET is_deleted = TRUE,
		    content = $2,
		    content_type = $3
		WHERE id = $1
	`, messageID, models.TombstoneContent, string(models.TombstoneContentType))
	return err
}
