package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/eren-k/HomeProBack/pkg/chatproto"
)

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `
	c.id, c.homeowner_id, c.professional_id, c.lead_id, c.lead_title,
	c.unread_homeowner, c.unread_professional, c.status, c.last_message_at,
	c.created_at, c.updated_at
`

// CreateOrGet returns the existing thread between the two participants or
// creates one. The lead reference is captured only at creation time.
func (r *ConversationRepository) CreateOrGet(
	ctx context.Context,
	homeownerID int64,
	professionalID int64,
	lead *chatproto.LeadRef,
) (*chatproto.Conversation, error) {
	query := `
		INSERT INTO conversations (homeowner_id, professional_id, lead_id, lead_title)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (homeowner_id, professional_id)
		DO UPDATE SET updated_at = conversations.updated_at
		RETURNING id, homeowner_id, professional_id, lead_id, lead_title,
			unread_homeowner, unread_professional, status, last_message_at,
			created_at, updated_at
	`

	var leadID sql.NullInt64
	var leadTitle sql.NullString
	if lead != nil {
		leadID = sql.NullInt64{Int64: lead.ID, Valid: true}
		leadTitle = sql.NullString{String: lead.Title, Valid: true}
	}

	row := r.db.QueryRow(ctx, query, homeownerID, professionalID, leadID, leadTitle)
	return scanConversation(row)
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID int64) (*chatproto.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.id = $1`
	return scanConversation(r.db.QueryRow(ctx, query, conversationID))
}

func (r *ConversationRepository) GetByIDForParticipant(
	ctx context.Context,
	conversationID int64,
	participantID int64,
) (*chatproto.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations c
		WHERE c.id = $1 AND (c.homeowner_id = $2 OR c.professional_id = $2)
	`
	return scanConversation(r.db.QueryRow(ctx, query, conversationID, participantID))
}

// ListForParticipant returns the participant's threads with both user
// summaries hydrated and the latest message attached, newest activity first.
func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
	status string,
	limit int,
) ([]chatproto.ConversationSummary, error) {
	query := `
		SELECT ` + conversationColumns + `,
			hu.first_name, hu.last_name, hu.email, hu.business_name, hu.photo_url,
			pu.first_name, pu.last_name, pu.email, pu.business_name, pu.photo_url,
			lm.id, lm.sender_id, lm.content, lm.is_read, lm.created_at
		FROM conversations c
		JOIN users hu ON hu.id = c.homeowner_id
		JOIN users pu ON pu.id = c.professional_id
		LEFT JOIN LATERAL (
			SELECT id, sender_id, content, is_read, created_at
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) lm ON TRUE
		WHERE (c.homeowner_id = $1 OR c.professional_id = $1)
		  AND c.status = $2
		ORDER BY COALESCE(c.last_message_at, c.updated_at, c.created_at) DESC, c.id DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, participantID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]chatproto.ConversationSummary, 0)
	for rows.Next() {
		var summary chatproto.ConversationSummary
		var leadID sql.NullInt64
		var leadTitle sql.NullString
		var lastMessageAt sql.NullTime
		var messageID sql.NullInt64
		var messageSenderID sql.NullInt64
		var messageContent sql.NullString
		var messageIsRead sql.NullBool
		var messageCreatedAt sql.NullTime

		if err := rows.Scan(
			&summary.ID,
			&summary.HomeownerID,
			&summary.ProfessionalID,
			&leadID,
			&leadTitle,
			&summary.UnreadHomeowner,
			&summary.UnreadProfessional,
			&summary.Status,
			&lastMessageAt,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&summary.Homeowner.FirstName,
			&summary.Homeowner.LastName,
			&summary.Homeowner.Email,
			&summary.Homeowner.BusinessName,
			&summary.Homeowner.PhotoURL,
			&summary.Professional.FirstName,
			&summary.Professional.LastName,
			&summary.Professional.Email,
			&summary.Professional.BusinessName,
			&summary.Professional.PhotoURL,
			&messageID,
			&messageSenderID,
			&messageContent,
			&messageIsRead,
			&messageCreatedAt,
		); err != nil {
			return nil, err
		}

		summary.Homeowner.ID = summary.HomeownerID
		summary.Homeowner.Role = chatproto.RoleHomeowner
		summary.Professional.ID = summary.ProfessionalID
		summary.Professional.Role = chatproto.RoleProfessional
		if leadID.Valid {
			summary.Lead = &chatproto.LeadRef{ID: leadID.Int64, Title: leadTitle.String}
		}
		if lastMessageAt.Valid {
			at := lastMessageAt.Time
			summary.LastMessageAt = &at
		}
		if messageID.Valid {
			summary.LastMessage = &chatproto.Message{
				ID:             messageID.Int64,
				ConversationID: summary.ID,
				SenderID:       messageSenderID.Int64,
				Content:        messageContent.String,
				IsRead:         messageIsRead.Bool,
				CreatedAt:      messageCreatedAt.Time,
			}
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

func (r *ConversationRepository) TouchLastMessage(ctx context.Context, conversationID int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message_at = $2, updated_at = NOW()
		WHERE id = $1
	`, conversationID, at)
	return err
}

// IncrementUnread bumps one role's counter in a single UPDATE so concurrent
// sends cannot lose increments.
func (r *ConversationRepository) IncrementUnread(ctx context.Context, conversationID int64, role string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET unread_homeowner = unread_homeowner + CASE WHEN $2 = 'homeowner' THEN 1 ELSE 0 END,
		    unread_professional = unread_professional + CASE WHEN $2 = 'professional' THEN 1 ELSE 0 END
		WHERE id = $1
	`, conversationID, role)
	return err
}

func (r *ConversationRepository) DecrementUnread(ctx context.Context, conversationID int64, role string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET unread_homeowner = GREATEST(unread_homeowner - CASE WHEN $2 = 'homeowner' THEN 1 ELSE 0 END, 0),
		    unread_professional = GREATEST(unread_professional - CASE WHEN $2 = 'professional' THEN 1 ELSE 0 END, 0)
		WHERE id = $1
	`, conversationID, role)
	return err
}

func (r *ConversationRepository) ResetUnread(ctx context.Context, conversationID int64, role string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET unread_homeowner = CASE WHEN $2 = 'homeowner' THEN 0 ELSE unread_homeowner END,
		    unread_professional = CASE WHEN $2 = 'professional' THEN 0 ELSE unread_professional END
		WHERE id = $1
	`, conversationID, role)
	return err
}

func (r *ConversationRepository) Archive(ctx context.Context, conversationID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET status = 'archived', updated_at = NOW()
		WHERE id = $1
	`, conversationID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*chatproto.Conversation, error) {
	var conversation chatproto.Conversation
	var leadID sql.NullInt64
	var leadTitle sql.NullString
	var lastMessageAt sql.NullTime

	err := row.Scan(
		&conversation.ID,
		&conversation.HomeownerID,
		&conversation.ProfessionalID,
		&leadID,
		&leadTitle,
		&conversation.UnreadHomeowner,
		&conversation.UnreadProfessional,
		&conversation.Status,
		&lastMessageAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if leadID.Valid {
		conversation.Lead = &chatproto.LeadRef{ID: leadID.Int64, Title: leadTitle.String}
	}
	if lastMessageAt.Valid {
		at := lastMessageAt.Time
		conversation.LastMessageAt = &at
	}

	return &conversation, nil
}
