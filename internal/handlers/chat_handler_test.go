package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eren-k/HomeProBack/internal/services"
	chatws "github.com/eren-k/HomeProBack/internal/websocket"
	"github.com/eren-k/HomeProBack/pkg/chatproto"
	"github.com/eren-k/HomeProBack/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type stubChatService struct {
	conversationsResult []chatproto.ConversationSummary
	conversationsUnread int
	conversationsErr    error
	messagesResult      []chatproto.Message
	messagesErr         error
	sendResult          *services.ChatDelivery
	sendErr             error
	readAt              time.Time
	readErr             error
	editResult          *chatproto.Message
	editErr             error
	deleteErr           error
	archiveErr          error

	lastActorID        int64
	lastRole           string
	lastStatus         string
	lastLimit          int
	lastConversationID int64
	lastMessageID      int64
	lastContent        string
	lastSendInput      services.SendMessageInput
}

func (s *stubChatService) ListConversations(_ context.Context, actorID int64, role string, status string, limit int) ([]chatproto.ConversationSummary, int, error) {
	s.lastActorID = actorID
	s.lastRole = role
	s.lastStatus = status
	s.lastLimit = limit
	return s.conversationsResult, s.conversationsUnread, s.conversationsErr
}

func (s *stubChatService) ListMessages(_ context.Context, actorID int64, conversationID int64, limit int) ([]chatproto.Message, error) {
	s.lastActorID = actorID
	s.lastConversationID = conversationID
	s.lastLimit = limit
	return s.messagesResult, s.messagesErr
}

func (s *stubChatService) SendMessage(_ context.Context, actorID int64, role string, input services.SendMessageInput) (*services.ChatDelivery, error) {
	s.lastActorID = actorID
	s.lastRole = role
	s.lastSendInput = input
	return s.sendResult, s.sendErr
}

func (s *stubChatService) MarkRead(_ context.Context, actorID int64, conversationID int64) (time.Time, error) {
	s.lastActorID = actorID
	s.lastConversationID = conversationID
	return s.readAt, s.readErr
}

func (s *stubChatService) EditMessage(_ context.Context, actorID int64, messageID int64, content string) (*chatproto.Message, error) {
	s.lastActorID = actorID
	s.lastMessageID = messageID
	s.lastContent = content
	return s.editResult, s.editErr
}

func (s *stubChatService) DeleteMessage(_ context.Context, actorID int64, messageID int64) error {
	s.lastActorID = actorID
	s.lastMessageID = messageID
	return s.deleteErr
}

func (s *stubChatService) ArchiveConversation(_ context.Context, actorID int64, conversationID int64) error {
	s.lastActorID = actorID
	s.lastConversationID = conversationID
	return s.archiveErr
}

func (s *stubChatService) IsParticipant(_ context.Context, _ int64, _ int64) (bool, error) {
	return true, nil
}

func newChatTestApp(service *stubChatService, role string, userID string) (*fiber.App, *ChatHandler) {
	handler := NewChatHandler(service, chatws.NewHub(nil), "secret")

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("role", role)
		c.Locals("user_id", userID)
		return c.Next()
	})
	return app, handler
}

func TestListConversationsReturnsSummariesAndTotalUnread(t *testing.T) {
	service := &stubChatService{
		conversationsResult: []chatproto.ConversationSummary{
			{
				Conversation: chatproto.Conversation{
					ID:              17,
					HomeownerID:     42,
					ProfessionalID:  8,
					UnreadHomeowner: 2,
				},
				LastMessage: &chatproto.Message{
					ID:             3,
					ConversationID: 17,
					SenderID:       8,
					Content:        "See you tomorrow",
					CreatedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
				},
			},
		},
		conversationsUnread: 2,
	}
	app, handler := newChatTestApp(service, chatproto.RoleHomeowner, "42")
	app.Get("/api/v1/conversations", handler.ListConversations)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations?status=active", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastActorID != 42 || service.lastRole != chatproto.RoleHomeowner {
		t.Fatalf("unexpected actor context: %d %q", service.lastActorID, service.lastRole)
	}
	if service.lastStatus != "active" {
		t.Fatalf("expected status filter forwarded, got %q", service.lastStatus)
	}

	var body struct {
		Conversations []chatproto.ConversationSummary `json:"conversations"`
		TotalUnread   int                             `json:"total_unread"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Conversations) != 1 || body.TotalUnread != 2 {
		t.Fatalf("unexpected response: %+v total=%d", body.Conversations, body.TotalUnread)
	}
}

func TestGetMessagesForwardsLimitAndKeepsOrder(t *testing.T) {
	newest := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	service := &stubChatService{
		messagesResult: []chatproto.Message{
			{ID: 6, ConversationID: 11, SenderID: 7, Content: "Later", CreatedAt: newest},
			{ID: 5, ConversationID: 11, SenderID: 7, Content: "Hi", CreatedAt: newest.Add(-time.Minute)},
		},
	}
	app, handler := newChatTestApp(service, chatproto.RoleProfessional, "7")
	app.Get("/api/v1/conversations/:id/messages", handler.GetMessages)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/11/messages?limit=5", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastConversationID != 11 || service.lastLimit != 5 {
		t.Fatalf("unexpected forwarded query: conversation=%d limit=%d", service.lastConversationID, service.lastLimit)
	}

	var body struct {
		Messages []chatproto.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(body.Messages) != 2 || body.Messages[0].ID != 6 {
		t.Fatalf("expected newest-first body, got %+v", body.Messages)
	}
}

func TestGetMessagesCapsLimit(t *testing.T) {
	service := &stubChatService{}
	app, handler := newChatTestApp(service, chatproto.RoleProfessional, "7")
	app.Get("/api/v1/conversations/:id/messages", handler.GetMessages)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/11/messages?limit=9999", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if service.lastLimit != maxMessageLimit {
		t.Fatalf("expected limit capped at %d, got %d", maxMessageLimit, service.lastLimit)
	}
}

func TestSendMessageReturnsCreated(t *testing.T) {
	service := &stubChatService{
		sendResult: &services.ChatDelivery{
			Conversation: &chatproto.Conversation{ID: 9, HomeownerID: 42, ProfessionalID: 7},
			Message:      &chatproto.Message{ID: 31, ConversationID: 9, SenderID: 42, RecipientID: 7, Content: "Hello"},
			RecipientID:  7,
		},
	}
	app, handler := newChatTestApp(service, chatproto.RoleHomeowner, "42")
	app.Post("/api/v1/messages", handler.SendMessage)

	payload := `{"recipient_id":7,"content":"Hello","client_key":"abc-123","lead":{"id":4,"title":"Kitchen remodel"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if service.lastSendInput.RecipientID != 7 || service.lastSendInput.ClientKey != "abc-123" {
		t.Fatalf("unexpected send input: %+v", service.lastSendInput)
	}
	if service.lastSendInput.Lead == nil || service.lastSendInput.Lead.Title != "Kitchen remodel" {
		t.Fatalf("expected lead forwarded, got %+v", service.lastSendInput.Lead)
	}

	var body struct {
		Message chatproto.Message `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Message.ID != 31 {
		t.Fatalf("unexpected message body: %+v", body.Message)
	}
}

func TestSendMessageMapsInvalidRecipient(t *testing.T) {
	service := &stubChatService{sendErr: services.ErrRecipientNotFound}
	app, handler := newChatTestApp(service, chatproto.RoleHomeowner, "42")
	app.Post("/api/v1/messages", handler.SendMessage)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(`{"recipient_id":99,"content":"Hello"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestMarkReadReturnsReadAt(t *testing.T) {
	readAt := time.Date(2026, 3, 1, 9, 10, 0, 0, time.UTC)
	service := &stubChatService{readAt: readAt}
	app, handler := newChatTestApp(service, chatproto.RoleHomeowner, "42")
	app.Post("/api/v1/conversations/:id/read", handler.MarkRead)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/17/read", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastConversationID != 17 {
		t.Fatalf("expected conversation 17, got %d", service.lastConversationID)
	}

	var body struct {
		ReadAt time.Time `json:"read_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !body.ReadAt.Equal(readAt) {
		t.Fatalf("expected read_at %v, got %v", readAt, body.ReadAt)
	}
}

func TestEditMessageByNonSenderReturnsForbidden(t *testing.T) {
	service := &stubChatService{editErr: services.ErrForbidden}
	app, handler := newChatTestApp(service, chatproto.RoleHomeowner, "42")
	app.Patch("/api/v1/messages/:id", handler.EditMessage)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/messages/31", strings.NewReader(`{"content":"changed"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestDeleteMessageReturnsNoContent(t *testing.T) {
	service := &stubChatService{}
	app, handler := newChatTestApp(service, chatproto.RoleHomeowner, "42")
	app.Delete("/api/v1/messages/:id", handler.DeleteMessage)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/messages/31", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if service.lastMessageID != 31 {
		t.Fatalf("expected message 31, got %d", service.lastMessageID)
	}
}

func TestDeleteMessageMapsNotFound(t *testing.T) {
	service := &stubChatService{deleteErr: services.ErrNotFound}
	app, handler := newChatTestApp(service, chatproto.RoleHomeowner, "42")
	app.Delete("/api/v1/messages/:id", handler.DeleteMessage)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/messages/99", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestArchiveConversationReturnsArchivedStatus(t *testing.T) {
	service := &stubChatService{}
	app, handler := newChatTestApp(service, chatproto.RoleProfessional, "7")
	app.Post("/api/v1/conversations/:id/archive", handler.ArchiveConversation)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/17/archive", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if body.Status != chatproto.ConversationArchived {
		t.Fatalf("expected archived status, got %q", body.Status)
	}
}

func TestWebSocketAuthGatesUpgrade(t *testing.T) {
	handler := NewChatHandler(&stubChatService{}, chatws.NewHub(nil), "secret")

	app := fiber.New()
	app.Use("/api/v1/ws", handler.WebSocketAuth)
	app.Get("/api/v1/ws", func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	// Plain HTTP request, no upgrade.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426 without upgrade, got %d", resp.StatusCode)
	}

	// Upgrade attempt with a bogus token.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/ws?token=bogus", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}

	// Upgrade attempt with a valid token reaches the socket handler.
	token, err := utils.GenerateToken("42", chatproto.RoleHomeowner, "secret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/ws?token="+token, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected auth middleware to pass, got %d", resp.StatusCode)
	}
}

func TestChatEndpointsRejectMissingIdentity(t *testing.T) {
	service := &stubChatService{}
	handler := NewChatHandler(service, chatws.NewHub(nil), "secret")

	app := fiber.New()
	app.Get("/api/v1/conversations", handler.ListConversations)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
