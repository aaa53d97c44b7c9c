package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/davood-kh/ExpertConnectBack/internal/models"
	"github.com/davood-kh/ExpertConnectBack/internal/presence"
	"github.com/davood-kh/ExpertConnectBack/internal/services"
	chatws "github.com/davood-kh/ExpertConnectBack/internal/websocket"
	"github.com/davood-kh/ExpertConnectBack/pkg/utils"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// chatApplicationService is the full surface the handler drives; the
// embedded gateway interface is what websocket connections consume.
type chatApplicationService interface {
	chatws.ChatService
	ListConversations(ctx context.Context, actor models.Participant) ([]models.ConversationSummary, error)
	CreateConversation(ctx context.Context, actor models.Participant, expertID int64) (*models.Conversation, error)
	ListMessages(ctx context.Context, actor models.Participant, conversationID int64, page int, limit int) ([]models.Message, int, error)
	ArchiveConversation(ctx context.Context, actor models.Participant, conversationID int64) error
	UnreadTotal(ctx context.Context, actor models.Participant) (int, error)
}

type ChatHandler struct {
	service   chatApplicationService
	hub       *chatws.Hub
	tracker   presence.Tracker
	storage   services.StorageService
	jwtSecret string
}

type createConversationRequest struct {
	ExpertID int64 `json:"expertId"`
}

func NewChatHandler(
	service chatApplicationService,
	hub *chatws.Hub,
	tracker presence.Tracker,
	storage services.StorageService,
	jwtSecret string,
) *ChatHandler {
	return &ChatHandler{
		service:   service,
		hub:       hub,
		tracker:   tracker,
		storage:   storage,
		jwtSecret: jwtSecret,
	}
}

// participantFromCtx rebuilds the tagged identity the auth middleware
// stashed in locals.
func participantFromCtx(c *fiber.Ctx) (models.Participant, error) {
	role, _ := c.Locals("role").(string)
	kind, ok := models.KindForRole(role)
	if !ok {
		return models.Participant{}, errors.New("unknown role")
	}

	rawID, _ := c.Locals("user_id").(string)
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return models.Participant{}, errors.New("invalid user id")
	}

	return models.Participant{Kind: kind, ID: id}, nil
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	actor, err := participantFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversations, err := h.service.ListConversations(c.Context(), actor)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversations": conversations})
}

func (h *ChatHandler) CreateConversation(c *fiber.Ctx) error {
	actor, err := participantFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req createConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	conversation, err := h.service.CreateConversation(c.Context(), actor, req.ExpertID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	actor, err := participantFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	messages, total, err := h.service.ListMessages(c.Context(), actor, conversationID, page, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":   messages,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

// ArchiveConversation flags a thread inactive for both sides. History
// stays readable through direct fetches but the thread leaves the
// sidebar.
func (h *ChatHandler) ArchiveConversation(c *fiber.Ctx) error {
	actor, err := participantFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	if err := h.service.ArchiveConversation(c.Context(), actor, conversationID); err != nil {
		return mapChatError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// GetUnreadTotal serves the aggregate badge for the external
// notification surface.
func (h *ChatHandler) GetUnreadTotal(c *fiber.Ctx) error {
	actor, err := participantFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	total, err := h.service.UnreadTotal(c.Context(), actor)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"unreadTotal": total})
}

// GetPresence reports online/last-seen for a thread header.
func (h *ChatHandler) GetPresence(c *fiber.Ctx) error {
	if _, err := participantFromCtx(c); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	kind := models.ParticipantKind(c.Params("model"))
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	subject := models.Participant{Kind: kind, ID: id}
	if err != nil || !subject.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid participant"})
	}

	status, err := h.tracker.Get(c.Context(), subject)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to read presence"})
	}

	return c.JSON(fiber.Map{"presence": status})
}

// UploadAttachment stores a file with the object-storage collaborator
// and returns the URL the client then sends as message content.
func (h *ChatHandler) UploadAttachment(c *fiber.Ctx) error {
	actor, err := participantFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	if h.storage == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Storage is not configured"})
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	if _, err := h.service.GetConversation(c.Context(), actor, conversationID); err != nil {
		return mapChatError(c, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing file"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unreadable file"})
	}
	defer file.Close()

	url, err := h.storage.UploadAttachment(c.Context(), file, fileHeader.Filename, conversationID)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Upload failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"url": url})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	role, _ := conn.Locals("role").(string)
	kind, ok := models.KindForRole(role)
	if !ok {
		_ = conn.Close()
		return
	}

	rawID, _ := conn.Locals("user_id").(string)
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		_ = conn.Close()
		return
	}

	client := chatws.NewClient(h.hub, conn, models.Participant{Kind: kind, ID: id})
	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.service)
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrExpertNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Expert not found"})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	case errors.Is(err, services.ErrStoreUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Store unavailable, retry"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
