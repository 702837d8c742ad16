package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/eren-k/HomeProBack/pkg/chatproto"
	"github.com/google/uuid"
)

type SessionState string

const (
	StateIdle    SessionState = "idle"
	StateLoading SessionState = "loading"
	StateReady   SessionState = "ready"
	// StatePending covers a deep link to a recipient with no existing
	// thread; the first confirmed send binds the returned conversation.
	StatePending SessionState = "pending"
)

const (
	typingTTL    = 2 * time.Second
	historyLimit = 50
)

var ErrNoActiveConversation = errors.New("no active conversation")

// Session tracks one active thread: its loaded history, optimistic echoes
// awaiting confirmation, the peer's typing indicator, and room membership on
// the shared channel.
type Session struct {
	api     API
	channel Channel
	userID  int64
	role    string

	mu               sync.Mutex
	state            SessionState
	conversationID   int64
	recipientID      int64
	pendingLead      *chatproto.LeadRef
	messages         []chatproto.Message
	peerTyping       bool
	typingDecay      *time.Timer
	selfTyping       bool
	typingIdle       *time.Timer
	epoch            int

	typingTimeout time.Duration
	newKey        func() string
	onChange      func()

	removeListener  func()
	removeReconnect func()
}

func NewSession(api API, channel Channel, userID int64, role string) *Session {
	s := &Session{
		api:           api,
		channel:       channel,
		userID:        userID,
		role:          role,
		state:         StateIdle,
		typingTimeout: typingTTL,
		newKey:        uuid.NewString,
	}
	s.removeListener = channel.AddListener(s.handleEnvelope)
	s.removeReconnect = channel.OnReconnect(s.handleReconnect)
	return s
}

// OnChange registers a single callback fired after any state mutation, for
// the UI layer to re-render from Snapshot.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Open selects a conversation: fetch history, join its room, mark it read.
// The fetch result is discarded if the user navigated elsewhere meanwhile.
func (s *Session) Open(ctx context.Context, conversationID int64, recipientID int64) error {
	s.mu.Lock()
	if s.state == StateReady && s.conversationID == conversationID {
		s.mu.Unlock()
		return nil
	}
	s.leaveCurrentLocked()
	s.state = StateLoading
	s.conversationID = conversationID
	s.recipientID = recipientID
	s.messages = nil
	s.peerTyping = false
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()
	s.notify()

	history, err := s.api.ListMessages(ctx, conversationID, historyLimit)
	if err != nil {
		s.mu.Lock()
		if s.epoch == epoch {
			s.state = StateIdle
			s.conversationID = 0
		}
		s.mu.Unlock()
		s.notify()
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// Stale fetch; the user already moved on.
		s.mu.Unlock()
		return nil
	}
	// The API lists newest-first; render order is chronological.
	s.messages = reverseMessages(history)
	s.state = StateReady
	s.mu.Unlock()
	s.notify()

	_ = s.channel.Emit(chatproto.EventJoinConversation, chatproto.RoomCommand{ConversationID: conversationID})
	if _, err := s.api.MarkRead(ctx, conversationID); err != nil {
		// Non-fatal: unread will be reconciled on the next list refresh.
		return nil
	}
	return nil
}

// OpenPending targets a recipient with no existing thread.
func (s *Session) OpenPending(recipientID int64, lead *chatproto.LeadRef) {
	s.mu.Lock()
	s.leaveCurrentLocked()
	s.state = StatePending
	s.conversationID = 0
	s.recipientID = recipientID
	s.pendingLead = lead
	s.messages = nil
	s.peerTyping = false
	s.epoch++
	s.mu.Unlock()
	s.notify()
}

// Close leaves the active room and returns to idle. In-flight RESTs are not
// cancelled; their results are dropped by the epoch guard.
func (s *Session) Close() {
	s.mu.Lock()
	s.leaveCurrentLocked()
	s.state = StateIdle
	s.conversationID = 0
	s.recipientID = 0
	s.pendingLead = nil
	s.messages = nil
	s.peerTyping = false
	s.epoch++
	s.mu.Unlock()
	s.notify()
}

// Release detaches the session from the shared channel. The channel itself
// stays up for the rest of the process.
func (s *Session) Release() {
	s.Close()
	if s.removeListener != nil {
		s.removeListener()
	}
	if s.removeReconnect != nil {
		s.removeReconnect()
	}
}

// Send appends an optimistic echo immediately and reconciles it once the
// server confirms, either via this call's response or via the socket push,
// whichever lands first.
func (s *Session) Send(ctx context.Context, content string, attachments []chatproto.Attachment) (*chatproto.Message, error) {
	s.mu.Lock()
	if s.state != StateReady && s.state != StatePending {
		s.mu.Unlock()
		return nil, ErrNoActiveConversation
	}

	key := s.newKey()
	now := time.Now()
	echo := chatproto.Message{
		ConversationID: s.conversationID,
		SenderID:       s.userID,
		RecipientID:    s.recipientID,
		Content:        content,
		Attachments:    attachments,
		ClientKey:      key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.messages = append(s.messages, echo)

	recipientID := s.recipientID
	lead := s.pendingLead
	pending := s.state == StatePending
	s.stopTypingLocked()
	s.mu.Unlock()
	s.notify()
	_ = s.channel.Emit(chatproto.EventTypingStop, chatproto.TypingCommand{ConversationID: echo.ConversationID, RecipientID: recipientID})

	confirmed, err := s.api.SendMessage(ctx, SendRequest{
		RecipientID: recipientID,
		Content:     content,
		Attachments: attachments,
		Lead:        lead,
		ClientKey:   key,
	})
	if err != nil {
		// Roll the echo back; a failed send never lingers.
		s.mu.Lock()
		s.dropByClientKeyLocked(key)
		s.mu.Unlock()
		s.notify()
		return nil, err
	}

	s.mu.Lock()
	if pending && s.state == StatePending && s.recipientID == recipientID {
		// First send created the thread; bind and join it.
		s.conversationID = confirmed.ConversationID
		s.state = StateReady
		s.pendingLead = nil
		defer s.channel.Emit(chatproto.EventJoinConversation, chatproto.RoomCommand{ConversationID: confirmed.ConversationID})
	}
	if s.conversationID == confirmed.ConversationID {
		s.reconcileLocked(*confirmed)
	}
	s.mu.Unlock()
	s.notify()

	return confirmed, nil
}

// InputChanged is called on every local keystroke. Emissions are coalesced:
// one typing:start per burst, and typing:stop after the idle window.
func (s *Session) InputChanged() {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return
	}
	conversationID := s.conversationID
	recipientID := s.recipientID
	start := !s.selfTyping
	s.selfTyping = true
	if s.typingIdle != nil {
		s.typingIdle.Stop()
	}
	s.typingIdle = time.AfterFunc(s.typingTimeout, func() {
		s.mu.Lock()
		s.selfTyping = false
		s.mu.Unlock()
		_ = s.channel.Emit(chatproto.EventTypingStop, chatproto.TypingCommand{ConversationID: conversationID, RecipientID: recipientID})
	})
	s.mu.Unlock()

	if start {
		_ = s.channel.Emit(chatproto.EventTypingStart, chatproto.TypingCommand{ConversationID: conversationID, RecipientID: recipientID})
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ConversationID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Messages returns the rendered list in chronological order.
func (s *Session) Messages() []chatproto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chatproto.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// PeerTyping reports whether the counterpart is currently typing. The flag
// decays on its own if no stop event ever arrives.
func (s *Session) PeerTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerTyping
}

func (s *Session) handleEnvelope(envelope chatproto.Envelope) {
	switch envelope.Event {
	case chatproto.EventMessageNew:
		var event chatproto.MessageEvent
		if err := decode(envelope, &event); err != nil {
			return
		}
		s.mu.Lock()
		if s.state != StateReady || s.conversationID != event.ConversationID {
			s.mu.Unlock()
			return
		}
		s.reconcileLocked(event.Message)
		if event.Message.SenderID != s.userID {
			s.clearPeerTypingLocked()
		}
		s.mu.Unlock()
		s.notify()

	case chatproto.EventMessagesRead:
		var event chatproto.ReadEvent
		if err := decode(envelope, &event); err != nil {
			return
		}
		s.mu.Lock()
		if s.conversationID != event.ConversationID || event.ReadBy == s.userID {
			s.mu.Unlock()
			return
		}
		at := event.ReadAt
		for i := range s.messages {
			if s.messages[i].SenderID == s.userID && !s.messages[i].IsRead {
				s.messages[i].IsRead = true
				s.messages[i].ReadAt = &at
			}
		}
		s.mu.Unlock()
		s.notify()

	case chatproto.EventUserTyping, chatproto.EventUserStoppedTyping:
		var event chatproto.TypingEvent
		if err := decode(envelope, &event); err != nil {
			return
		}
		s.mu.Lock()
		if s.conversationID != event.ConversationID || event.UserID == s.userID {
			s.mu.Unlock()
			return
		}
		if envelope.Event == chatproto.EventUserTyping {
			s.peerTyping = true
			if s.typingDecay != nil {
				s.typingDecay.Stop()
			}
			// Fallback decay: the explicit stop may never arrive.
			s.typingDecay = time.AfterFunc(s.typingTimeout, func() {
				s.mu.Lock()
				s.peerTyping = false
				s.mu.Unlock()
				s.notify()
			})
		} else {
			s.clearPeerTypingLocked()
		}
		s.mu.Unlock()
		s.notify()
	}
}

// handleReconnect re-joins the active room and re-fetches history to close
// the gap; the channel itself never replays missed events.
func (s *Session) handleReconnect() {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return
	}
	conversationID := s.conversationID
	epoch := s.epoch
	s.mu.Unlock()

	_ = s.channel.Emit(chatproto.EventJoinConversation, chatproto.RoomCommand{ConversationID: conversationID})

	history, err := s.api.ListMessages(context.Background(), conversationID, historyLimit)
	if err != nil {
		return
	}

	s.mu.Lock()
	if s.epoch == epoch && s.conversationID == conversationID {
		s.messages = mergeHistory(reverseMessages(history), s.messages)
	}
	s.mu.Unlock()
	s.notify()
}

// reconcileLocked folds a server-confirmed message into the visible list:
// duplicates by id are dropped, optimistic echoes are replaced in place
// (client key first, then sender+content as the legacy fallback), anything
// else is appended.
func (s *Session) reconcileLocked(confirmed chatproto.Message) {
	for i := range s.messages {
		if s.messages[i].ID != 0 && s.messages[i].ID == confirmed.ID {
			s.messages[i] = confirmed
			return
		}
	}
	if confirmed.ClientKey != "" {
		for i := range s.messages {
			if s.messages[i].ID == 0 && s.messages[i].ClientKey == confirmed.ClientKey {
				s.messages[i] = confirmed
				return
			}
		}
	}
	if confirmed.SenderID == s.userID {
		for i := range s.messages {
			if s.messages[i].ID == 0 && s.messages[i].SenderID == confirmed.SenderID &&
				s.messages[i].Content == confirmed.Content {
				s.messages[i] = confirmed
				return
			}
		}
	}
	s.messages = append(s.messages, confirmed)
}

func (s *Session) dropByClientKeyLocked(key string) {
	for i := range s.messages {
		if s.messages[i].ID == 0 && s.messages[i].ClientKey == key {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *Session) leaveCurrentLocked() {
	if s.state == StateReady && s.conversationID != 0 {
		conversationID := s.conversationID
		go s.channel.Emit(chatproto.EventLeaveConversation, chatproto.RoomCommand{ConversationID: conversationID})
	}
	s.stopTypingLocked()
}

func (s *Session) stopTypingLocked() {
	s.selfTyping = false
	if s.typingIdle != nil {
		s.typingIdle.Stop()
		s.typingIdle = nil
	}
}

func (s *Session) clearPeerTypingLocked() {
	s.peerTyping = false
	if s.typingDecay != nil {
		s.typingDecay.Stop()
		s.typingDecay = nil
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func reverseMessages(newestFirst []chatproto.Message) []chatproto.Message {
	out := make([]chatproto.Message, len(newestFirst))
	for i, message := range newestFirst {
		out[len(newestFirst)-1-i] = message
	}
	return out
}

// mergeHistory keeps the fresh fetch authoritative but holds on to local
// optimistic echoes that are still awaiting confirmation.
func mergeHistory(fresh []chatproto.Message, local []chatproto.Message) []chatproto.Message {
	confirmedKeys := make(map[string]struct{})
	for _, message := range fresh {
		if message.ClientKey != "" {
			confirmedKeys[message.ClientKey] = struct{}{}
		}
	}
	out := fresh
	for _, message := range local {
		if message.ID != 0 {
			continue
		}
		if _, ok := confirmedKeys[message.ClientKey]; ok {
			continue
		}
		out = append(out, message)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func decode(envelope chatproto.Envelope, out any) error {
	if len(envelope.Data) == 0 {
		return errors.New("empty event payload")
	}
	return json.Unmarshal(envelope.Data, out)
}
