package chatproto

import (
	"encoding/json"
	"time"
)

// Server-emitted events.
const (
	EventMessageNew          = "message:new"
	EventMessageNotification = "message:notification"
	EventUserTyping          = "typing:user_typing"
	EventUserStoppedTyping   = "typing:user_stopped"
	EventMessagesRead        = "messages:read"
	EventError               = "error"
)

// Client-emitted events.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventPresenceOnline    = "presence:online"
)

// Envelope frames every payload on the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// MessageEvent carries the canonical message for message:new and
// message:notification.
type MessageEvent struct {
	ConversationID int64   `json:"conversation_id"`
	Message        Message `json:"message"`
}

// TypingEvent is advisory and fire-and-forget; no store representation.
type TypingEvent struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
}

// ReadEvent tells the sender side their outbound messages are now read.
type ReadEvent struct {
	ConversationID int64     `json:"conversation_id"`
	ReadBy         int64     `json:"read_by"`
	ReadAt         time.Time `json:"read_at"`
}

// RoomCommand is the payload for join_conversation / leave_conversation.
type RoomCommand struct {
	ConversationID int64 `json:"conversation_id"`
}

// TypingCommand is the payload for typing:start / typing:stop.
type TypingCommand struct {
	ConversationID int64 `json:"conversation_id"`
	RecipientID    int64 `json:"recipient_id,omitempty"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}
