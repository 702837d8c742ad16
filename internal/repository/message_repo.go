package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eren-k/HomeProBack/pkg/chatproto"
	"github.com/jackc/pgx/v5"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

type CreateMessageInput struct {
	ConversationID int64
	SenderID       int64
	RecipientID    int64
	Sender         chatproto.UserSummary
	Recipient      chatproto.UserSummary
	Content        string
	Attachments    []chatproto.Attachment
	ClientKey      string
}

const messageColumns = `
	id, conversation_id, sender_id, recipient_id, sender_snapshot, recipient_snapshot,
	content, attachments, client_key, is_read, read_at, is_edited, edited_at,
	created_at, updated_at
`

// Create inserts the message with participant snapshots captured as of send
// time. A replayed client_key inserts nothing and returns the original row.
func (r *MessageRepository) Create(ctx context.Context, input CreateMessageInput) (*chatproto.Message, error) {
	senderSnapshot, err := json.Marshal(input.Sender)
	if err != nil {
		return nil, fmt.Errorf("marshal sender snapshot: %w", err)
	}
	recipientSnapshot, err := json.Marshal(input.Recipient)
	if err != nil {
		return nil, fmt.Errorf("marshal recipient snapshot: %w", err)
	}
	attachments := input.Attachments
	if attachments == nil {
		attachments = []chatproto.Attachment{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}

	query := `
		INSERT INTO messages (
			conversation_id, sender_id, recipient_id, sender_snapshot,
			recipient_snapshot, content, attachments, client_key
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sender_id, client_key) WHERE client_key <> '' DO NOTHING
		RETURNING ` + messageColumns

	row := r.db.QueryRow(ctx, query,
		input.ConversationID,
		input.SenderID,
		input.RecipientID,
		senderSnapshot,
		recipientSnapshot,
		input.Content,
		attachmentsJSON,
		input.ClientKey,
	)

	message, err := scanMessage(row)
	if err != nil {
		if input.ClientKey != "" && errors.Is(err, pgx.ErrNoRows) {
			// The key already committed a row; hand back that message.
			return r.GetByClientKey(ctx, input.SenderID, input.ClientKey)
		}
		return nil, err
	}
	return message, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, messageID int64) (*chatproto.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	return scanMessage(r.db.QueryRow(ctx, query, messageID))
}

func (r *MessageRepository) GetByClientKey(ctx context.Context, senderID int64, clientKey string) (*chatproto.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE sender_id = $1 AND client_key = $2`
	return scanMessage(r.db.QueryRow(ctx, query, senderID, clientKey))
}

// ListByConversation returns messages newest-first. This ordering is the
// documented API contract; consumers reverse before rendering.
func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
	limit int,
) ([]chatproto.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]chatproto.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

// MarkConversationRead flips every unread message addressed to the reader.
// Already-read rows are untouched, so a second call affects nothing.
func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
	readAt time.Time,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET is_read = TRUE, read_at = $3, updated_at = NOW()
		WHERE conversation_id = $1
		  AND recipient_id = $2
		  AND is_read = FALSE
	`, conversationID, readerID, readAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) UpdateContent(ctx context.Context, messageID int64, content string) (*chatproto.Message, error) {
	query := `
		UPDATE messages
		SET content = $2, is_edited = TRUE, edited_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + messageColumns
	return scanMessage(r.db.QueryRow(ctx, query, messageID, content))
}

func (r *MessageRepository) Delete(ctx context.Context, messageID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	return err
}

func scanMessage(row rowScanner) (*chatproto.Message, error) {
	var message chatproto.Message
	var senderSnapshot []byte
	var recipientSnapshot []byte
	var attachments []byte
	var readAt sql.NullTime
	var editedAt sql.NullTime

	err := row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.RecipientID,
		&senderSnapshot,
		&recipientSnapshot,
		&message.Content,
		&attachments,
		&message.ClientKey,
		&message.IsRead,
		&readAt,
		&message.IsEdited,
		&editedAt,
		&message.CreatedAt,
		&message.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(senderSnapshot, &message.Sender); err != nil {
		return nil, fmt.Errorf("unmarshal sender snapshot: %w", err)
	}
	if err := json.Unmarshal(recipientSnapshot, &message.Recipient); err != nil {
		return nil, fmt.Errorf("unmarshal recipient snapshot: %w", err)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &message.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	if len(message.Attachments) == 0 {
		message.Attachments = nil
	}
	if readAt.Valid {
		at := readAt.Time
		message.ReadAt = &at
	}
	if editedAt.Valid {
		at := editedAt.Time
		message.EditedAt = &at
	}

	return &message, nil
}
