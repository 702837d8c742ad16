package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/eren-k/HomeProBack/pkg/chatproto"
	"github.com/gorilla/websocket"
)

var ErrChannelDown = errors.New("channel not connected")

// Channel is the thin event side of the protocol. One channel is shared by
// every mounted surface of the process (badge, thread view, ...); it is torn
// down only on logout, never when an individual view goes away.
type Channel interface {
	Emit(event string, payload any) error
	// AddListener registers a handler for every inbound envelope and
	// returns its remover; callers remove per component lifetime so the
	// same event is never handled twice.
	AddListener(handler func(chatproto.Envelope)) (remove func())
	// OnReconnect registers a hook run after the transport is
	// re-established, so sessions can re-join their room and close any gap
	// by re-fetching over REST.
	OnReconnect(hook func()) (remove func())
}

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

type SocketChannel struct {
	url   string
	token string

	mu         sync.Mutex
	conn       *websocket.Conn
	listeners  map[int]func(chatproto.Envelope)
	reconnects map[int]func()
	nextID     int
	closed     bool
}

// DialSocket connects and starts the manage loop. url is the ws endpoint,
// e.g. ws://host/api/v1/ws.
func DialSocket(ctx context.Context, url, token string) (*SocketChannel, error) {
	channel := &SocketChannel{
		url:        url,
		token:      token,
		listeners:  make(map[int]func(chatproto.Envelope)),
		reconnects: make(map[int]func()),
	}

	conn, err := channel.dial(ctx)
	if err != nil {
		return nil, err
	}
	channel.conn = conn

	go channel.readLoop(conn)
	_ = channel.Emit(chatproto.EventPresenceOnline, nil)

	return channel, nil
}

func (s *SocketChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url+"?token="+s.token, nil)
	return conn, err
}

func (s *SocketChannel) Emit(event string, payload any) error {
	envelope, err := chatproto.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrChannelDown
	}
	return s.conn.WriteMessage(websocket.TextMessage, encoded)
}

func (s *SocketChannel) AddListener(handler func(chatproto.Envelope)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *SocketChannel) OnReconnect(hook func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.reconnects[id] = hook
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.reconnects, id)
	}
}

// Close tears the channel down for good (logout).
func (s *SocketChannel) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *SocketChannel) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.conn = nil
			s.mu.Unlock()
			if !closed {
				go s.reconnect()
			}
			return
		}

		var envelope chatproto.Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			log.Printf("chat channel: dropping malformed event: %v", err)
			continue
		}
		s.dispatch(envelope)
	}
}

func (s *SocketChannel) dispatch(envelope chatproto.Envelope) {
	s.mu.Lock()
	handlers := make([]func(chatproto.Envelope), 0, len(s.listeners))
	for _, handler := range s.listeners {
		handlers = append(handlers, handler)
	}
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(envelope)
	}
}

// reconnect retries with exponential backoff and a little jitter. A sustained
// outage is not an error surface here; consumers keep working off REST.
func (s *SocketChannel) reconnect() {
	delay := reconnectBaseDelay
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		time.Sleep(delay + time.Duration(rand.Int63n(int64(delay/2+1))))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := s.dial(ctx)
		cancel()
		if err != nil {
			if delay *= 2; delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		hooks := make([]func(), 0, len(s.reconnects))
		for _, hook := range s.reconnects {
			hooks = append(hooks, hook)
		}
		s.mu.Unlock()

		go s.readLoop(conn)
		_ = s.Emit(chatproto.EventPresenceOnline, nil)
		for _, hook := range hooks {
			hook()
		}
		return
	}
}
