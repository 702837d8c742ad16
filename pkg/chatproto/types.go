// Package chatproto holds the wire types and socket event protocol shared by
// the server and the client SDK.
package chatproto

import "time"

const (
	RoleHomeowner    = "homeowner"
	RoleProfessional = "professional"
)

const (
	ConversationActive   = "active"
	ConversationArchived = "archived"
)

// UserSummary is the participant snapshot denormalized onto each message at
// send time. It is deliberately never resynced with later profile edits.
type UserSummary struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	BusinessName string `json:"business_name,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
}

func (u UserSummary) DisplayName() string {
	if u.BusinessName != "" {
		return u.BusinessName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// LeadRef is an informational pointer to the lead/project a conversation was
// started from. Delivery never depends on it.
type LeadRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type Attachment struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type Message struct {
	ID             int64        `json:"id"`
	ConversationID int64        `json:"conversation_id"`
	SenderID       int64        `json:"sender_id"`
	RecipientID    int64        `json:"recipient_id"`
	Sender         UserSummary  `json:"sender"`
	Recipient      UserSummary  `json:"recipient"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ClientKey      string       `json:"client_key,omitempty"`
	IsRead         bool         `json:"is_read"`
	ReadAt         *time.Time   `json:"read_at,omitempty"`
	IsEdited       bool         `json:"is_edited"`
	EditedAt       *time.Time   `json:"edited_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type Conversation struct {
	ID                 int64       `json:"id"`
	HomeownerID        int64       `json:"homeowner_id"`
	ProfessionalID     int64       `json:"professional_id"`
	Homeowner          UserSummary `json:"homeowner"`
	Professional       UserSummary `json:"professional"`
	Lead               *LeadRef    `json:"lead,omitempty"`
	UnreadHomeowner    int         `json:"unread_homeowner"`
	UnreadProfessional int         `json:"unread_professional"`
	Status             string      `json:"status"`
	LastMessageAt      *time.Time  `json:"last_message_at,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// UnreadFor returns the unread counter for the given participant role.
func (c Conversation) UnreadFor(role string) int {
	if role == RoleProfessional {
		return c.UnreadProfessional
	}
	return c.UnreadHomeowner
}

// Counterpart returns the participant opposite the given viewer role.
func (c Conversation) Counterpart(role string) UserSummary {
	if role == RoleHomeowner {
		return c.Professional
	}
	return c.Homeowner
}

type ConversationSummary struct {
	Conversation
	LastMessage *Message `json:"last_message,omitempty"`
}
