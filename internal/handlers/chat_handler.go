package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/eren-k/HomeProBack/internal/services"
	chatws "github.com/eren-k/HomeProBack/internal/websocket"
	"github.com/eren-k/HomeProBack/pkg/chatproto"
	"github.com/eren-k/HomeProBack/pkg/utils"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

type chatApplicationService interface {
	ListConversations(ctx context.Context, actorID int64, role string, status string, limit int) ([]chatproto.ConversationSummary, int, error)
	ListMessages(ctx context.Context, actorID int64, conversationID int64, limit int) ([]chatproto.Message, error)
	SendMessage(ctx context.Context, actorID int64, role string, input services.SendMessageInput) (*services.ChatDelivery, error)
	MarkRead(ctx context.Context, actorID int64, conversationID int64) (time.Time, error)
	EditMessage(ctx context.Context, actorID int64, messageID int64, content string) (*chatproto.Message, error)
	DeleteMessage(ctx context.Context, actorID int64, messageID int64) error
	ArchiveConversation(ctx context.Context, actorID int64, conversationID int64) error
	IsParticipant(ctx context.Context, actorID int64, conversationID int64) (bool, error)
}

type ChatHandler struct {
	service   chatApplicationService
	hub       *chatws.Hub
	jwtSecret string
}

func NewChatHandler(service chatApplicationService, hub *chatws.Hub, jwtSecret string) *ChatHandler {
	return &ChatHandler{
		service:   service,
		hub:       hub,
		jwtSecret: jwtSecret,
	}
}

type sendMessageRequest struct {
	RecipientID int64                  `json:"recipient_id"`
	Content     string                 `json:"content"`
	Attachments []chatproto.Attachment `json:"attachments,omitempty"`
	Lead        *chatproto.LeadRef     `json:"lead,omitempty"`
	ClientKey   string                 `json:"client_key,omitempty"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	actorID, role, err := actorContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	limit := parsePositiveInt(c.Query("limit"), defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}

	conversations, totalUnread, err := h.service.ListConversations(c.Context(), actorID, role, c.Query("status"), limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"conversations": conversations,
		"total_unread":  totalUnread,
	})
}

// GetMessages returns the thread newest-first; clients reverse into
// chronological order before rendering.
func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	actorID, _, err := actorContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	limit := parsePositiveInt(c.Query("limit"), defaultMessageLimit)
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	messages, err := h.service.ListMessages(c.Context(), actorID, conversationID, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"messages": messages})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	actorID, role, err := actorContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	delivery, err := h.service.SendMessage(c.Context(), actorID, role, services.SendMessageInput{
		RecipientID: req.RecipientID,
		Content:     req.Content,
		Attachments: req.Attachments,
		Lead:        req.Lead,
		ClientKey:   strings.TrimSpace(req.ClientKey),
	})
	if err != nil {
		return mapChatError(c, err)
	}

	if !delivery.Duplicate {
		h.hub.BroadcastDelivery(delivery)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": delivery.Message})
}

func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	actorID, _, err := actorContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	readAt, err := h.service.MarkRead(c.Context(), actorID, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	h.hub.BroadcastRead(conversationID, actorID, readAt)

	return c.JSON(fiber.Map{"read_at": readAt})
}

func (h *ChatHandler) EditMessage(c *fiber.Ctx) error {
	actorID, _, err := actorContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	messageID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || messageID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	var req editMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	message, err := h.service.EditMessage(c.Context(), actorID, messageID, req.Content)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) DeleteMessage(c *fiber.Ctx) error {
	actorID, _, err := actorContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	messageID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || messageID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	if err := h.service.DeleteMessage(c.Context(), actorID, messageID); err != nil {
		return mapChatError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) ArchiveConversation(c *fiber.Ctx) error {
	actorID, _, err := actorContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	if err := h.service.ArchiveConversation(c.Context(), actorID, conversationID); err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"status": chatproto.ConversationArchived})
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
	rawUserID, _ := conn.Locals("user_id").(string)
	userID, err := strconv.ParseInt(rawUserID, 10, 64)
	if err != nil || userID <= 0 {
		_ = conn.Close()
		return
	}

	client := chatws.NewClient(h.hub, conn, userID)
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

func actorContext(c *fiber.Ctx) (int64, string, error) {
	rawUserID, ok := c.Locals("user_id").(string)
	if !ok {
		return 0, "", errors.New("missing user id")
	}
	actorID, err := strconv.ParseInt(rawUserID, 10, 64)
	if err != nil || actorID <= 0 {
		return 0, "", errors.New("invalid user id")
	}
	role, _ := c.Locals("role").(string)
	return actorID, role, nil
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrRecipientNotFound):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid recipient"})
	case errors.Is(err, services.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
