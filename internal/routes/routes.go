package routes

import (
	"context"

	"github.com/davood-kh/ExpertConnectBack/internal/config"
	"github.com/davood-kh/ExpertConnectBack/internal/handlers"
	"github.com/davood-kh/ExpertConnectBack/internal/middleware"
	"github.com/davood-kh/ExpertConnectBack/internal/presence"
	"github.com/davood-kh/ExpertConnectBack/internal/repository"
	"github.com/davood-kh/ExpertConnectBack/internal/services"
	chatws "github.com/davood-kh/ExpertConnectBack/internal/websocket"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool, redisClient *redis.Client) error {
	userRepo := repository.NewUserRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	var tracker presence.Tracker
	if redisClient != nil {
		tracker = presence.NewRedisTracker(redisClient)
	} else {
		tracker = presence.NewMemoryTracker()
	}

	var storageService services.StorageService
	if cfg.StorageEnabled() {
		storageService = services.NewSupabaseStorageService(
			cfg.SupabaseURL,
			cfg.SupabaseBucket,
			cfg.SupabaseServiceKey,
		)
	}

	chatService := services.NewChatService(db, conversationRepo, messageRepo, userRepo)
	if storageService != nil {
		chatService.SetStorage(storageService)
	}

	chatHub := chatws.NewHub(tracker)
	if redisClient != nil {
		bridge := chatws.NewBridge(redisClient)
		chatHub.SetBridge(bridge)
		go bridge.Run(context.Background(), chatHub)
	}
	go chatHub.Run()

	chatHandler := handlers.NewChatHandler(chatService, chatHub, tracker, storageService, cfg.JWTSecret)

	api := app.Group("/api")
	v1 := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := v1.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("", chatHandler.CreateConversation)
	conversations.Get("/unread-total", chatHandler.GetUnreadTotal)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/attachments", chatHandler.UploadAttachment)
	conversations.Delete("/:id", chatHandler.ArchiveConversation)

	v1.Get("/presence/:model/:id", chatHandler.GetPresence)

	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	return registerDocsRoutes(app, cfg)
}
