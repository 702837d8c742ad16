package models

import (
	"time"

	"github.com/eren-k/HomeProBack/pkg/chatproto"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	BusinessName string    `json:"business_name,omitempty"`
	PhotoURL     string    `json:"photo_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Summary is the snapshot denormalized onto messages at send time.
func (u *User) Summary() chatproto.UserSummary {
	return chatproto.UserSummary{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Email:        u.Email,
		Role:         u.Role,
		BusinessName: u.BusinessName,
		PhotoURL:     u.PhotoURL,
	}
}
