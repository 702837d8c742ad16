package chatws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eren-k/HomeProBack/pkg/chatproto"
	websocket "github.com/gofiber/contrib/websocket"
)

// membership gates join_conversation: room joins are authorized against the
// store, not just the REST layer.
type membership interface {
	IsParticipant(ctx context.Context, actorID int64, conversationID int64) (bool, error)
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID int64
	room   int64
	send   chan []byte
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 32),
	}
}

func (c *Client) ReadPump(service membership) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleEvent(service, payload)
	}
}

func (c *Client) handleEvent(service membership, payload []byte) {
	var envelope chatproto.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		c.writeError("invalid event payload")
		return
	}

	switch envelope.Event {
	case chatproto.EventJoinConversation:
		var cmd chatproto.RoomCommand
		if err := json.Unmarshal(envelope.Data, &cmd); err != nil || cmd.ConversationID <= 0 {
			c.writeError("invalid conversation id")
			return
		}
		ok, err := service.IsParticipant(context.Background(), c.userID, cmd.ConversationID)
		if err != nil {
			c.writeError("failed to join conversation")
			return
		}
		if !ok {
			c.writeError("not a participant of this conversation")
			return
		}
		c.hub.Join(c, cmd.ConversationID)

	case chatproto.EventLeaveConversation:
		var cmd chatproto.RoomCommand
		if err := json.Unmarshal(envelope.Data, &cmd); err != nil || cmd.ConversationID <= 0 {
			c.writeError("invalid conversation id")
			return
		}
		c.hub.Leave(c, cmd.ConversationID)

	case chatproto.EventTypingStart, chatproto.EventTypingStop:
		var cmd chatproto.TypingCommand
		if err := json.Unmarshal(envelope.Data, &cmd); err != nil || cmd.ConversationID <= 0 {
			c.writeError("invalid typing payload")
			return
		}
		ok, err := service.IsParticipant(context.Background(), c.userID, cmd.ConversationID)
		if err != nil || !ok {
			c.writeError("not a participant of this conversation")
			return
		}
		c.hub.RelayTyping(cmd.ConversationID, c.userID, envelope.Event == chatproto.EventTypingStart)

	case chatproto.EventPresenceOnline:
		// Best-effort refresh; connect already marked the user online.
		c.hub.markOnlineAsync(c.userID)

	default:
		c.writeError("unsupported event")
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (c *Client) writeError(message string) {
	envelope, err := chatproto.NewEnvelope(chatproto.EventError, chatproto.ErrorEvent{Message: message})
	if err != nil {
		return
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	case <-time.After(time.Second):
	}
}
