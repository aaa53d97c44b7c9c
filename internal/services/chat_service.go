package services

import (
	"context"
	"errors"
	"strings"

	"github.com/davood-kh/ExpertConnectBack/internal/models"
	"github.com/davood-kh/ExpertConnectBack/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type ChatService struct {
	db               *pgxpool.Pool
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	userRepo         userReader
	storage          StorageService
	sendLocks        *conversationLocks
}

// ChatDelivery is everything the gateway needs to fan a persisted
// message out: the stored message, the refreshed preview and the
// counterpart whose personal channel gets the sidebar update.
type ChatDelivery struct {
	Conversation *models.Conversation
	Message      *models.Message
	Receiver     models.Participant
	PreviewText  string
}

func NewChatService(
	db *pgxpool.Pool,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	userRepo userReader,
) *ChatService {
	return &ChatService{
		db:               db,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		userRepo:         userRepo,
		sendLocks:        newConversationLocks(),
	}
}

// SetStorage attaches the object-storage collaborator so soft-deleted
// attachment payloads can be cleaned up.
func (s *ChatService) SetStorage(storage StorageService) {
	s.storage = storage
}

func (s *ChatService) ListConversations(
	ctx context.Context,
	actor models.Participant,
) ([]models.ConversationSummary, error) {
	if !actor.Valid() {
		return nil, ErrUnauthorized
	}

	summaries, err := s.conversationRepo.ListForParticipant(ctx, actor)
	if err != nil {
		return nil, storeErr(err)
	}
	return summaries, nil
}

// CreateConversation lazily materializes the single thread for a
// (user, expert) pair. Only the user side initiates contact.
func (s *ChatService) CreateConversation(
	ctx context.Context,
	actor models.Participant,
	expertID int64,
) (*models.Conversation, error) {
	if !actor.Valid() {
		return nil, ErrUnauthorized
	}
	if actor.Kind != models.KindUser {
		return nil, ErrForbidden
	}
	if expertID <= 0 {
		return nil, ErrInvalidInput
	}

	expert, err := s.userRepo.GetByID(ctx, expertID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExpertNotFound
		}
		return nil, storeErr(err)
	}
	if expert.Role != "expert" {
		return nil, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.CreateOrGet(ctx, actor.ID, expertID)
	if err != nil {
		return nil, storeErr(err)
	}
	return conversation, nil
}

func (s *ChatService) GetConversation(
	ctx context.Context,
	actor models.Participant,
	conversationID int64,
) (*models.Conversation, error) {
	if !actor.Valid() {
		return nil, ErrUnauthorized
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr(err)
	}
	return conversation, nil
}

// ListMessages pages a thread in creation order with reply targets
// resolved. It has no read-acknowledgment side effect; MarkAsRead is
// an explicit, separate operation.
func (s *ChatService) ListMessages(
	ctx context.Context,
	actor models.Participant,
	conversationID int64,
	page int,
	limit int,
) ([]models.Message, int, error) {
	if !actor.Valid() {
		return nil, 0, ErrUnauthorized
	}
	if conversationID <= 0 || page <= 0 || limit <= 0 {
		return nil, 0, ErrInvalidInput
	}

	if _, err := s.GetConversation(ctx, actor, conversationID); err != nil {
		return nil, 0, err
	}

	messages, total, err := s.messageRepo.ListByConversation(ctx, conversationID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	return messages, total, nil
}

// SendMessage is the single serialized entry point per conversation:
// within one transaction it appends the message, refreshes the
// denormalized preview and bumps only the receiver's unread counter.
// Nothing is broadcast by callers until this returns, which keeps
// fan-out order aligned with persistence order.
func (s *ChatService) SendMessage(
	ctx context.Context,
	actor models.Participant,
	conversationID int64,
	content string,
	contentType models.ContentType,
	replyTo *int64,
) (*ChatDelivery, error) {
	if !actor.Valid() {
		return nil, ErrUnauthorized
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}
	if contentType == "" {
		contentType = models.ContentTypeText
	}
	if !contentType.Valid() {
		return nil, ErrInvalidInput
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, ErrInvalidInput
	}

	conversation, err := s.GetConversation(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}

	receiver, ok := conversation.Counterpart(actor)
	if !ok {
		return nil, ErrForbidden
	}

	release := s.sendLocks.Acquire(conversationID)
	defer release()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx)
	txConversationRepo := repository.NewConversationRepository(tx)

	message, err := txMessageRepo.Append(ctx, conversationID, actor, trimmed, contentType, replyTo)
	if err != nil {
		return nil, storeErr(err)
	}

	previewText := models.PreviewText(contentType, trimmed)
	preview := repository.MessagePreview{
		Text:   previewText,
		At:     message.CreatedAt,
		Sender: actor,
		Status: models.StatusSent,
	}
	if err := txConversationRepo.ApplyMessagePreview(ctx, conversationID, preview); err != nil {
		return nil, storeErr(err)
	}

	// The sender implicitly reads their own message; only the
	// receiver's counter moves.
	if err := txConversationRepo.IncrementUnread(ctx, conversationID, receiver.Kind); err != nil {
		return nil, storeErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr(err)
	}

	return &ChatDelivery{
		Conversation: conversation,
		Message:      message,
		Receiver:     receiver,
		PreviewText:  previewText,
	}, nil
}

// MarkAsRead acknowledges every counterpart-authored message in the
// thread and zeroes the reader's own counter. Both legs are guarded
// idempotent updates, so re-invocation has no further effect.
func (s *ChatService) MarkAsRead(
	ctx context.Context,
	actor models.Participant,
	conversationID int64,
) error {
	if !actor.Valid() {
		return ErrUnauthorized
	}
	if conversationID <= 0 {
		return ErrInvalidInput
	}

	if _, err := s.GetConversation(ctx, actor, conversationID); err != nil {
		return err
	}

	release := s.sendLocks.Acquire(conversationID)
	defer release()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storeErr(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx)
	txConversationRepo := repository.NewConversationRepository(tx)

	if err := txMessageRepo.MarkRead(ctx, conversationID, actor); err != nil {
		return storeErr(err)
	}
	if err := txConversationRepo.ClearUnread(ctx, conversationID, actor.Kind); err != nil {
		return storeErr(err)
	}
	if err := txConversationRepo.MarkLastMessageRead(ctx, conversationID, actor); err != nil {
		return storeErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr(err)
	}
	return nil
}

// DeleteMessage tombstones a message after verifying server-side that
// the requester authored it. Deleting twice yields the same tombstone.
func (s *ChatService) DeleteMessage(
	ctx context.Context,
	actor models.Participant,
	conversationID int64,
	messageID int64,
) error {
	if !actor.Valid() {
		return ErrUnauthorized
	}
	if conversationID <= 0 || messageID <= 0 {
		return ErrInvalidInput
	}

	if _, err := s.GetConversation(ctx, actor, conversationID); err != nil {
		return err
	}

	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return storeErr(err)
	}
	if message.ConversationID != conversationID {
		return ErrNotFound
	}
	if !message.Sender().Equal(actor) {
		return ErrForbidden
	}

	if err := s.messageRepo.SoftDelete(ctx, messageID); err != nil {
		return storeErr(err)
	}

	// Best effort: the tombstone is already durable, a stranded object
	// in the bucket is acceptable.
	if s.storage != nil && !message.IsDeleted && message.ContentType != models.ContentTypeText {
		_ = s.storage.DeleteAttachment(ctx, message.Content)
	}
	return nil
}

// ArchiveConversation hides a thread from both sidebars. Messages are
// kept; the row is flagged inactive, never deleted.
func (s *ChatService) ArchiveConversation(
	ctx context.Context,
	actor models.Participant,
	conversationID int64,
) error {
	if _, err := s.GetConversation(ctx, actor, conversationID); err != nil {
		return err
	}

	if err := s.conversationRepo.Deactivate(ctx, conversationID); err != nil {
		return storeErr(err)
	}
	return nil
}

// UnreadTotal is the aggregate badge count consumed by the external
// notification surface.
func (s *ChatService) UnreadTotal(ctx context.Context, actor models.Participant) (int, error) {
	if !actor.Valid() {
		return 0, ErrUnauthorized
	}

	total, err := s.conversationRepo.UnreadTotal(ctx, actor)
	if err != nil {
		return 0, storeErr(err)
	}
	return total, nil
}
