package chatws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/eren-k/HomeProBack/pkg/chatproto"
)

type stubMembership struct {
	member           bool
	err              error
	lastActor        int64
	lastConversation int64
}

func (s *stubMembership) IsParticipant(_ context.Context, actorID, conversationID int64) (bool, error) {
	s.lastActor = actorID
	s.lastConversation = conversationID
	return s.member, s.err
}

func commandPayload(t *testing.T, event string, payload any) []byte {
	t.Helper()
	envelope, err := chatproto.NewEnvelope(event, payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return raw
}

func TestTypingRelaysForParticipant(t *testing.T) {
	hub := startHub()
	service := &stubMembership{member: true}

	typist := NewClient(hub, nil, 1)
	peer := NewClient(hub, nil, 2)
	hub.Register(typist)
	hub.Register(peer)
	hub.Join(peer, 9)

	typist.handleEvent(service, commandPayload(t, chatproto.EventTypingStart, chatproto.TypingCommand{ConversationID: 9}))

	if service.lastActor != 1 || service.lastConversation != 9 {
		t.Fatalf("membership checked with actor %d conversation %d", service.lastActor, service.lastConversation)
	}

	envelope := receiveEnvelope(t, peer)
	if envelope.Event != chatproto.EventUserTyping {
		t.Fatalf("expected %s, got %s", chatproto.EventUserTyping, envelope.Event)
	}
	assertSilent(t, typist)
}

func TestTypingFromNonParticipantIsNotRelayed(t *testing.T) {
	hub := startHub()
	service := &stubMembership{member: false}

	typist := NewClient(hub, nil, 3)
	peer := NewClient(hub, nil, 2)
	hub.Register(typist)
	hub.Register(peer)
	hub.Join(peer, 9)

	typist.handleEvent(service, commandPayload(t, chatproto.EventTypingStart, chatproto.TypingCommand{ConversationID: 9}))

	envelope := receiveEnvelope(t, typist)
	if envelope.Event != chatproto.EventError {
		t.Fatalf("expected %s, got %s", chatproto.EventError, envelope.Event)
	}
	var event chatproto.ErrorEvent
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if event.Message != "not a participant of this conversation" {
		t.Fatalf("unexpected error message: %q", event.Message)
	}
	assertSilent(t, peer)
}

func TestJoinFromNonParticipantIsRejected(t *testing.T) {
	hub := startHub()
	service := &stubMembership{member: false}

	client := NewClient(hub, nil, 3)
	hub.Register(client)

	client.handleEvent(service, commandPayload(t, chatproto.EventJoinConversation, chatproto.RoomCommand{ConversationID: 9}))

	envelope := receiveEnvelope(t, client)
	if envelope.Event != chatproto.EventError {
		t.Fatalf("expected %s, got %s", chatproto.EventError, envelope.Event)
	}

	hub.BroadcastRead(9, 1, time.Now().UTC())
	assertSilent(t, client)
}
