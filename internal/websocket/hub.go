// Package chatws is the delivery channel: a best-effort push layer over one
// authenticated socket per client. It persists nothing; REST is the source of
// truth and clients must stay correct without ever receiving an event.
package chatws

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/eren-k/HomeProBack/internal/services"
	"github.com/eren-k/HomeProBack/pkg/chatproto"
	"github.com/redis/go-redis/v9"
)

const presenceSetKey = "chat:online"

type Hub struct {
	clients map[int64]map[*Client]struct{} // user id -> sockets
	rooms   map[int64]map[*Client]struct{} // conversation id -> sockets

	register   chan *Client
	unregister chan *Client
	commands   chan roomChange
	outbound   chan fanout

	// Optional Dupahar-style presence set; the hub works without it.
	presence *redis.Client
}

type roomChange struct {
	client         *Client
	conversationID int64
	join           bool
}

// fanout is one state-change pushed to interested sockets: a fine-grained
// room event plus an optional lightweight notification for participants whose
// sockets are not in the room.
type fanout struct {
	conversationID int64
	room           chatproto.Envelope
	excludeUser    int64
	notify         *chatproto.Envelope
	participants   []int64
}

func NewHub(presence *redis.Client) *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]struct{}),
		rooms:      make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan roomChange),
		outbound:   make(chan fanout, 64),
		presence:   presence,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
			h.markOnline(client.userID)

		case client := <-h.unregister:
			h.drop(client)

		case change := <-h.commands:
			if change.join {
				h.joinRoom(change.client, change.conversationID)
			} else {
				h.leaveRoom(change.client, change.conversationID)
			}

		case out := <-h.outbound:
			h.deliver(out)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Join binds the socket to a conversation room. A socket tracks one active
// thread at a time, so joining replaces any previous room.
func (h *Hub) Join(client *Client, conversationID int64) {
	h.commands <- roomChange{client: client, conversationID: conversationID, join: true}
}

func (h *Hub) Leave(client *Client, conversationID int64) {
	h.commands <- roomChange{client: client, conversationID: conversationID, join: false}
}

// BroadcastDelivery pushes a committed send: message:new to the room
// (the sender's other sockets included), message:notification to participant
// sockets outside the room so list views can refresh unread badges.
func (h *Hub) BroadcastDelivery(delivery *services.ChatDelivery) {
	payload := chatproto.MessageEvent{
		ConversationID: delivery.Message.ConversationID,
		Message:        *delivery.Message,
	}

	room, err := chatproto.NewEnvelope(chatproto.EventMessageNew, payload)
	if err != nil {
		log.Printf("chat hub encode message event: %v", err)
		return
	}
	notify, err := chatproto.NewEnvelope(chatproto.EventMessageNotification, payload)
	if err != nil {
		log.Printf("chat hub encode notification event: %v", err)
		return
	}

	h.outbound <- fanout{
		conversationID: delivery.Message.ConversationID,
		room:           room,
		notify:         &notify,
		participants: []int64{
			delivery.Conversation.HomeownerID,
			delivery.Conversation.ProfessionalID,
		},
	}
}

// BroadcastRead tells room members the reader has caught up, flipping the
// sender side's sent ticks without a reload.
func (h *Hub) BroadcastRead(conversationID int64, readBy int64, readAt time.Time) {
	envelope, err := chatproto.NewEnvelope(chatproto.EventMessagesRead, chatproto.ReadEvent{
		ConversationID: conversationID,
		ReadBy:         readBy,
		ReadAt:         readAt,
	})
	if err != nil {
		log.Printf("chat hub encode read event: %v", err)
		return
	}

	h.outbound <- fanout{conversationID: conversationID, room: envelope}
}

// RelayTyping forwards a typing pulse to room members other than the typist.
// Fire-and-forget: no acknowledgement, no persistence, consumers apply their
// own decay timeout.
func (h *Hub) RelayTyping(conversationID int64, userID int64, typing bool) {
	event := chatproto.EventUserTyping
	if !typing {
		event = chatproto.EventUserStoppedTyping
	}

	envelope, err := chatproto.NewEnvelope(event, chatproto.TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
	})
	if err != nil {
		log.Printf("chat hub encode typing event: %v", err)
		return
	}

	h.outbound <- fanout{conversationID: conversationID, room: envelope, excludeUser: userID}
}

func (h *Hub) joinRoom(client *Client, conversationID int64) {
	if client.room != 0 && client.room != conversationID {
		h.leaveRoom(client, client.room)
	}
	set, ok := h.rooms[conversationID]
	if !ok {
		set = make(map[*Client]struct{})
		h.rooms[conversationID] = set
	}
	set[client] = struct{}{}
	client.room = conversationID
}

func (h *Hub) leaveRoom(client *Client, conversationID int64) {
	if set, ok := h.rooms[conversationID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	if client.room == conversationID {
		client.room = 0
	}
}

func (h *Hub) drop(client *Client) {
	set, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, exists := set[client]; !exists {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.clients, client.userID)
		h.markOffline(client.userID)
	}
	if client.room != 0 {
		h.leaveRoom(client, client.room)
	}
}

func (h *Hub) deliver(out fanout) {
	encoded, err := json.Marshal(out.room)
	if err != nil {
		log.Printf("chat hub encode envelope: %v", err)
		return
	}

	for client := range h.rooms[out.conversationID] {
		if out.excludeUser != 0 && client.userID == out.excludeUser {
			continue
		}
		h.push(client, encoded)
	}

	if out.notify == nil {
		return
	}
	encodedNotify, err := json.Marshal(*out.notify)
	if err != nil {
		log.Printf("chat hub encode notify envelope: %v", err)
		return
	}
	for _, userID := range out.participants {
		for client := range h.clients[userID] {
			if client.room == out.conversationID {
				continue
			}
			h.push(client, encodedNotify)
		}
	}
}

func (h *Hub) push(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		h.drop(client)
	}
}

func (h *Hub) markOnlineAsync(userID int64) {
	go h.markOnline(userID)
}

func (h *Hub) markOnline(userID int64) {
	if h.presence == nil {
		return
	}
	if err := h.presence.SAdd(context.Background(), presenceSetKey, strconv.FormatInt(userID, 10)).Err(); err != nil {
		log.Printf("chat hub presence online %d: %v", userID, err)
	}
}

func (h *Hub) markOffline(userID int64) {
	if h.presence == nil {
		return
	}
	if err := h.presence.SRem(context.Background(), presenceSetKey, strconv.FormatInt(userID, 10)).Err(); err != nil {
		log.Printf("chat hub presence offline %d: %v", userID, err)
	}
}
