// Package chatclient is the Go client SDK for the messaging core: a typed
// REST client, a shared socket channel, the per-thread conversation session,
// and the per-role inbox aggregator.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eren-k/HomeProBack/pkg/chatproto"
)

// API is the request/response surface the session and inbox depend on. The
// REST layer is the durability guarantee; the socket is only a nudge.
type API interface {
	ListConversations(ctx context.Context, status string, limit int) ([]chatproto.ConversationSummary, int, error)
	ListMessages(ctx context.Context, conversationID int64, limit int) ([]chatproto.Message, error)
	SendMessage(ctx context.Context, input SendRequest) (*chatproto.Message, error)
	MarkRead(ctx context.Context, conversationID int64) (time.Time, error)
	EditMessage(ctx context.Context, messageID int64, content string) (*chatproto.Message, error)
	DeleteMessage(ctx context.Context, messageID int64) error
	ArchiveConversation(ctx context.Context, conversationID int64) error
}

type SendRequest struct {
	RecipientID int64                  `json:"recipient_id"`
	Content     string                 `json:"content"`
	Attachments []chatproto.Attachment `json:"attachments,omitempty"`
	Lead        *chatproto.LeadRef     `json:"lead,omitempty"`
	ClientKey   string                 `json:"client_key,omitempty"`
}

type RESTClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Login exchanges credentials for the bearer token used on both REST and the
// socket connection.
func Login(ctx context.Context, baseURL, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("login failed: %s", strings.TrimSpace(string(payload)))
	}

	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.Token, nil
}

func (c *RESTClient) ListConversations(ctx context.Context, status string, limit int) ([]chatproto.ConversationSummary, int, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var parsed struct {
		Conversations []chatproto.ConversationSummary `json:"conversations"`
		TotalUnread   int                             `json:"total_unread"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations?"+query.Encode(), nil, &parsed); err != nil {
		return nil, 0, err
	}
	return parsed.Conversations, parsed.TotalUnread, nil
}

// ListMessages returns the server's newest-first page; callers reverse into
// chronological order before rendering.
func (c *RESTClient) ListMessages(ctx context.Context, conversationID int64, limit int) ([]chatproto.Message, error) {
	path := fmt.Sprintf("/api/v1/conversations/%d/messages", conversationID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var parsed struct {
		Messages []chatproto.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &parsed); err != nil {
		return nil, err
	}
	return parsed.Messages, nil
}

func (c *RESTClient) SendMessage(ctx context.Context, input SendRequest) (*chatproto.Message, error) {
	var parsed struct {
		Message *chatproto.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages", input, &parsed); err != nil {
		return nil, err
	}
	return parsed.Message, nil
}

func (c *RESTClient) MarkRead(ctx context.Context, conversationID int64) (time.Time, error) {
	var parsed struct {
		ReadAt time.Time `json:"read_at"`
	}
	path := fmt.Sprintf("/api/v1/conversations/%d/read", conversationID)
	if err := c.do(ctx, http.MethodPost, path, nil, &parsed); err != nil {
		return time.Time{}, err
	}
	return parsed.ReadAt, nil
}

func (c *RESTClient) EditMessage(ctx context.Context, messageID int64, content string) (*chatproto.Message, error) {
	var parsed struct {
		Message *chatproto.Message `json:"message"`
	}
	path := fmt.Sprintf("/api/v1/messages/%d", messageID)
	if err := c.do(ctx, http.MethodPatch, path, map[string]string{"content": content}, &parsed); err != nil {
		return nil, err
	}
	return parsed.Message, nil
}

func (c *RESTClient) DeleteMessage(ctx context.Context, messageID int64) error {
	path := fmt.Sprintf("/api/v1/messages/%d", messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *RESTClient) ArchiveConversation(ctx context.Context, conversationID int64) error {
	path := fmt.Sprintf("/api/v1/conversations/%d/archive", conversationID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *RESTClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Body)
}
