package chatclient

import (
	"context"
	"strings"
	"sync"

	"github.com/eren-k/HomeProBack/pkg/chatproto"
)

const maxConversationPage = 100

// Inbox is the per-role aggregator: the conversation list, unread totals, and
// the single active session. It resolves "who is the other participant" from
// the viewer's side of the two fixed slots.
type Inbox struct {
	api     API
	channel Channel
	userID  int64
	role    string

	mu            sync.Mutex
	conversations []chatproto.ConversationSummary
	totalUnread   int
	status        string
	onChange      func()

	session        *Session
	removeListener func()
}

func NewInbox(api API, channel Channel, userID int64, role string) *Inbox {
	inbox := &Inbox{
		api:     api,
		channel: channel,
		userID:  userID,
		role:    role,
		status:  chatproto.ConversationActive,
		session: NewSession(api, channel, userID, role),
	}
	inbox.removeListener = channel.AddListener(inbox.handleEnvelope)
	return inbox
}

func (b *Inbox) Session() *Session {
	return b.session
}

func (b *Inbox) Role() string {
	return b.role
}

func (b *Inbox) OnChange(fn func()) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Load refreshes the conversation list over REST. It is also the recovery
// path: a client that never receives a single socket event stays correct by
// polling this.
func (b *Inbox) Load(ctx context.Context) error {
	b.mu.Lock()
	status := b.status
	b.mu.Unlock()

	conversations, totalUnread, err := b.api.ListConversations(ctx, status, maxConversationPage)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.conversations = conversations
	b.totalUnread = totalUnread
	b.mu.Unlock()
	b.notify()
	return nil
}

// SetStatusFilter switches between active and archived listings; takes
// effect on the next Load.
func (b *Inbox) SetStatusFilter(status string) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
}

// Conversations returns the current list, optionally filtered by a
// case-insensitive substring match on the counterpart's name or the lead
// title.
func (b *Inbox) Conversations(search string) []chatproto.ConversationSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	if search == "" {
		out := make([]chatproto.ConversationSummary, len(b.conversations))
		copy(out, b.conversations)
		return out
	}

	needle := strings.ToLower(search)
	out := make([]chatproto.ConversationSummary, 0)
	for _, summary := range b.conversations {
		name := strings.ToLower(summary.Counterpart(b.role).DisplayName())
		title := ""
		if summary.Lead != nil {
			title = strings.ToLower(summary.Lead.Title)
		}
		if strings.Contains(name, needle) || (title != "" && strings.Contains(title, needle)) {
			out = append(out, summary)
		}
	}
	return out
}

func (b *Inbox) TotalUnread() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalUnread
}

// Open selects a conversation from the list as the active thread.
func (b *Inbox) Open(ctx context.Context, conversationID int64) error {
	b.mu.Lock()
	var recipientID int64
	for _, summary := range b.conversations {
		if summary.ID == conversationID {
			recipientID = summary.Counterpart(b.role).ID
			break
		}
	}
	b.mu.Unlock()
	if recipientID == 0 {
		return ErrNoActiveConversation
	}

	if err := b.session.Open(ctx, conversationID, recipientID); err != nil {
		return err
	}
	b.clearUnread(conversationID)
	return nil
}

// OpenWith is the deep-link entry: given a recipient from elsewhere in the
// app, select the existing thread with them or enter the pending state so
// the first send creates one.
func (b *Inbox) OpenWith(ctx context.Context, recipientID int64, lead *chatproto.LeadRef) error {
	b.mu.Lock()
	var existing int64
	for _, summary := range b.conversations {
		if summary.Counterpart(b.role).ID == recipientID {
			existing = summary.ID
			break
		}
	}
	b.mu.Unlock()

	if existing != 0 {
		return b.Open(ctx, existing)
	}

	b.session.OpenPending(recipientID, lead)
	return nil
}

// ArchiveConversation archives and drops the thread from the active list.
func (b *Inbox) ArchiveConversation(ctx context.Context, conversationID int64) error {
	if err := b.api.ArchiveConversation(ctx, conversationID); err != nil {
		return err
	}

	b.mu.Lock()
	if b.status == chatproto.ConversationActive {
		for i := range b.conversations {
			if b.conversations[i].ID == conversationID {
				b.totalUnread -= b.conversations[i].UnreadFor(b.role)
				if b.totalUnread < 0 {
					b.totalUnread = 0
				}
				b.conversations = append(b.conversations[:i], b.conversations[i+1:]...)
				break
			}
		}
	}
	if b.session.ConversationID() == conversationID {
		b.session.Close()
	}
	b.mu.Unlock()
	b.notify()
	return nil
}

// Release detaches the inbox (and its session) from the shared channel.
func (b *Inbox) Release() {
	b.session.Release()
	if b.removeListener != nil {
		b.removeListener()
	}
}

// handleEnvelope keeps the list and badge fresh from the lightweight
// notifications sent for threads that are not the active room.
func (b *Inbox) handleEnvelope(envelope chatproto.Envelope) {
	if envelope.Event != chatproto.EventMessageNotification {
		return
	}
	var event chatproto.MessageEvent
	if err := decode(envelope, &event); err != nil {
		return
	}
	// A notification for the viewer's own send (from another of their
	// sessions) still refreshes the preview; only inbound messages count
	// against the badge.
	inbound := event.Message.RecipientID == b.userID
	if !inbound && event.Message.SenderID != b.userID {
		return
	}

	b.mu.Lock()
	found := false
	for i := range b.conversations {
		if b.conversations[i].ID != event.ConversationID {
			continue
		}
		found = true
		message := event.Message
		b.conversations[i].LastMessage = &message
		at := message.CreatedAt
		b.conversations[i].LastMessageAt = &at
		if inbound {
			if b.role == chatproto.RoleHomeowner {
				b.conversations[i].UnreadHomeowner++
			} else {
				b.conversations[i].UnreadProfessional++
			}
			b.totalUnread++
		}
		// Most recent activity bubbles to the top.
		summary := b.conversations[i]
		copy(b.conversations[1:i+1], b.conversations[:i])
		b.conversations[0] = summary
		break
	}
	b.mu.Unlock()
	b.notify()

	if !found {
		// A brand-new thread we have never listed; fall back to a full
		// refresh.
		go func() {
			_ = b.Load(context.Background())
		}()
	}
}

func (b *Inbox) clearUnread(conversationID int64) {
	b.mu.Lock()
	for i := range b.conversations {
		if b.conversations[i].ID != conversationID {
			continue
		}
		b.totalUnread -= b.conversations[i].UnreadFor(b.role)
		if b.totalUnread < 0 {
			b.totalUnread = 0
		}
		if b.role == chatproto.RoleHomeowner {
			b.conversations[i].UnreadHomeowner = 0
		} else {
			b.conversations[i].UnreadProfessional = 0
		}
		break
	}
	b.mu.Unlock()
	b.notify()
}

func (b *Inbox) notify() {
	b.mu.Lock()
	fn := b.onChange
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}
