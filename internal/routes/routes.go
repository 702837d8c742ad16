package routes

import (
	"github.com/eren-k/HomeProBack/internal/config"
	"github.com/eren-k/HomeProBack/internal/handlers"
	"github.com/eren-k/HomeProBack/internal/middleware"
	"github.com/eren-k/HomeProBack/internal/repository"
	"github.com/eren-k/HomeProBack/internal/services"
	chatws "github.com/eren-k/HomeProBack/internal/websocket"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool) {
	userRepo := repository.NewUserRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	var storageService services.StorageService
	if cfg.SupabaseURL != "" && cfg.SupabaseBucket != "" && cfg.SupabaseServiceKey != "" {
		storageService = services.NewSupabaseStorageService(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseServiceKey)
	}

	var presence *redis.Client
	if cfg.RedisAddr != "" {
		presence = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	chatHub := chatws.NewHub(presence)
	go chatHub.Run()

	chatService := services.NewChatService(db, conversationRepo, messageRepo, userRepo)
	chatHandler := handlers.NewChatHandler(chatService, chatHub, cfg.JWTSecret)
	authHandler := handlers.NewAuthHandler(userRepo, cfg.JWTSecret)
	attachmentHandler := handlers.NewAttachmentHandler(storageService)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/read", chatHandler.MarkRead)
	conversations.Post("/:id/archive", chatHandler.ArchiveConversation)

	messages := authProtected.Group("/messages")
	messages.Post("", chatHandler.SendMessage)
	messages.Patch("/:id", chatHandler.EditMessage)
	messages.Delete("/:id", chatHandler.DeleteMessage)

	authProtected.Post("/attachments", attachmentHandler.Upload)

	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))
}
