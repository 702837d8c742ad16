package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/eren-k/HomeProBack/internal/models"
	"github.com/eren-k/HomeProBack/internal/repository"
	"github.com/eren-k/HomeProBack/pkg/chatproto"
	"github.com/jackc/pgx/v5"
)

var (
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrRecipientNotFound = errors.New("recipient not found")
)

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type conversationStore interface {
	GetByIDForParticipant(ctx context.Context, conversationID int64, participantID int64) (*chatproto.Conversation, error)
	ListForParticipant(ctx context.Context, participantID int64, status string, limit int) ([]chatproto.ConversationSummary, error)
	Archive(ctx context.Context, conversationID int64) error
}

type messageStore interface {
	GetByID(ctx context.Context, messageID int64) (*chatproto.Message, error)
	GetByClientKey(ctx context.Context, senderID int64, clientKey string) (*chatproto.Message, error)
	ListByConversation(ctx context.Context, conversationID int64, limit int) ([]chatproto.Message, error)
	UpdateContent(ctx context.Context, messageID int64, content string) (*chatproto.Message, error)
}

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type ChatService struct {
	db               txBeginner
	conversationRepo conversationStore
	messageRepo      messageStore
	userRepo         userReader
}

// ChatDelivery is what a committed send hands to the delivery channel.
type ChatDelivery struct {
	Conversation *chatproto.Conversation
	Message      *chatproto.Message
	RecipientID  int64
	// Duplicate marks a replayed client key; the original message is
	// returned and no counters were touched.
	Duplicate bool
}

type SendMessageInput struct {
	RecipientID int64
	Content     string
	Attachments []chatproto.Attachment
	Lead        *chatproto.LeadRef
	ClientKey   string
}

func NewChatService(
	db txBeginner,
	conversationRepo conversationStore,
	messageRepo messageStore,
	userRepo userReader,
) *ChatService {
	return &ChatService{
		db:               db,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		userRepo:         userRepo,
	}
}

func validRole(role string) bool {
	return role == chatproto.RoleHomeowner || role == chatproto.RoleProfessional
}

// ListConversations returns the actor's threads plus their total unread count
// for that listing.
func (s *ChatService) ListConversations(
	ctx context.Context,
	actorID int64,
	role string,
	status string,
	limit int,
) ([]chatproto.ConversationSummary, int, error) {
	if !validRole(role) {
		return nil, 0, ErrForbidden
	}
	if status == "" {
		status = chatproto.ConversationActive
	}
	if status != chatproto.ConversationActive && status != chatproto.ConversationArchived {
		return nil, 0, ErrInvalidInput
	}
	if limit <= 0 {
		return nil, 0, ErrInvalidInput
	}

	summaries, err := s.conversationRepo.ListForParticipant(ctx, actorID, status, limit)
	if err != nil {
		return nil, 0, err
	}

	totalUnread := 0
	for _, summary := range summaries {
		totalUnread += summary.UnreadFor(role)
	}

	return summaries, totalUnread, nil
}

// ListMessages returns a conversation's history newest-first. Archived
// conversations keep their history readable.
func (s *ChatService) ListMessages(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	limit int,
) ([]chatproto.Message, error) {
	if conversationID <= 0 || limit <= 0 {
		return nil, ErrInvalidInput
	}

	if _, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return s.messageRepo.ListByConversation(ctx, conversationID, limit)
}

// SendMessage commits a message, creating the conversation between the two
// participants if none exists, and bumps the recipient's unread counter in
// the same transaction.
func (s *ChatService) SendMessage(
	ctx context.Context,
	actorID int64,
	role string,
	input SendMessageInput,
) (*ChatDelivery, error) {
	if !validRole(role) {
		return nil, ErrForbidden
	}
	if input.RecipientID <= 0 || input.RecipientID == actorID {
		return nil, ErrInvalidInput
	}

	content := strings.TrimSpace(input.Content)
	if content == "" && len(input.Attachments) == 0 {
		return nil, ErrInvalidInput
	}

	// A retried send with the same client key returns the already-committed
	// message instead of appending a twin.
	if input.ClientKey != "" {
		existing, err := s.messageRepo.GetByClientKey(ctx, actorID, input.ClientKey)
		if err == nil {
			conversation, err := s.conversationRepo.GetByIDForParticipant(ctx, existing.ConversationID, actorID)
			if err != nil {
				return nil, err
			}
			return &ChatDelivery{
				Conversation: conversation,
				Message:      existing,
				RecipientID:  existing.RecipientID,
				Duplicate:    true,
			}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}

	recipient, err := s.userRepo.GetByID(ctx, input.RecipientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	if !validRole(recipient.Role) || recipient.Role == role {
		return nil, ErrInvalidInput
	}

	sender, err := s.userRepo.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}

	homeownerID, professionalID := actorID, input.RecipientID
	if role == chatproto.RoleProfessional {
		homeownerID, professionalID = input.RecipientID, actorID
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txConversationRepo := repository.NewConversationRepository(tx)
	txMessageRepo := repository.NewMessageRepository(tx)

	conversation, err := txConversationRepo.CreateOrGet(ctx, homeownerID, professionalID, input.Lead)
	if err != nil {
		return nil, err
	}

	message, err := txMessageRepo.Create(ctx, repository.CreateMessageInput{
		ConversationID: conversation.ID,
		SenderID:       actorID,
		RecipientID:    input.RecipientID,
		Sender:         sender.Summary(),
		Recipient:      recipient.Summary(),
		Content:        content,
		Attachments:    input.Attachments,
		ClientKey:      input.ClientKey,
	})
	if err != nil {
		return nil, err
	}

	if err := txConversationRepo.IncrementUnread(ctx, conversation.ID, recipient.Role); err != nil {
		return nil, err
	}
	if err := txConversationRepo.TouchLastMessage(ctx, conversation.ID, message.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if recipient.Role == chatproto.RoleHomeowner {
		conversation.UnreadHomeowner++
	} else {
		conversation.UnreadProfessional++
	}
	at := message.CreatedAt
	conversation.LastMessageAt = &at
	if role == chatproto.RoleHomeowner {
		conversation.Homeowner = sender.Summary()
		conversation.Professional = recipient.Summary()
	} else {
		conversation.Homeowner = recipient.Summary()
		conversation.Professional = sender.Summary()
	}

	return &ChatDelivery{
		Conversation: conversation,
		Message:      message,
		RecipientID:  input.RecipientID,
	}, nil
}

// MarkRead flips every unread message addressed to the actor in the
// conversation and zeroes the actor's unread counter. Calling it again is a
// no-op.
func (s *ChatService) MarkRead(
	ctx context.Context,
	actorID int64,
	conversationID int64,
) (time.Time, error) {
	if conversationID <= 0 {
		return time.Time{}, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, err
	}

	role := chatproto.RoleHomeowner
	if actorID == conversation.ProfessionalID {
		role = chatproto.RoleProfessional
	}

	readAt := time.Now().UTC()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txConversationRepo := repository.NewConversationRepository(tx)
	txMessageRepo := repository.NewMessageRepository(tx)

	if _, err := txMessageRepo.MarkConversationRead(ctx, conversationID, actorID, readAt); err != nil {
		return time.Time{}, err
	}
	if err := txConversationRepo.ResetUnread(ctx, conversationID, role); err != nil {
		return time.Time{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, err
	}

	return readAt, nil
}

// EditMessage replaces the content in place; only the original sender may
// edit, and the original content is not retained.
func (s *ChatService) EditMessage(
	ctx context.Context,
	actorID int64,
	messageID int64,
	content string,
) (*chatproto.Message, error) {
	trimmed := strings.TrimSpace(content)
	if messageID <= 0 || trimmed == "" {
		return nil, ErrInvalidInput
	}

	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if message.SenderID != actorID {
		return nil, ErrForbidden
	}

	return s.messageRepo.UpdateContent(ctx, messageID, trimmed)
}

// DeleteMessage hard-deletes; no tombstone is kept, other participants
// converge on their next history fetch. If the message was still unread the
// recipient's counter is walked back so the badge cannot overcount.
func (s *ChatService) DeleteMessage(ctx context.Context, actorID int64, messageID int64) error {
	if messageID <= 0 {
		return ErrInvalidInput
	}

	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if message.SenderID != actorID {
		return ErrForbidden
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txConversationRepo := repository.NewConversationRepository(tx)
	txMessageRepo := repository.NewMessageRepository(tx)

	if err := txMessageRepo.Delete(ctx, messageID); err != nil {
		return err
	}
	if !message.IsRead {
		if err := txConversationRepo.DecrementUnread(ctx, message.ConversationID, message.Recipient.Role); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ArchiveConversation soft-hides the thread from the default listing. Either
// participant may archive; history stays readable.
func (s *ChatService) ArchiveConversation(ctx context.Context, actorID int64, conversationID int64) error {
	if conversationID <= 0 {
		return ErrInvalidInput
	}

	if _, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	return s.conversationRepo.Archive(ctx, conversationID)
}

// IsParticipant backs the join_conversation authorization on the socket side.
func (s *ChatService) IsParticipant(ctx context.Context, actorID int64, conversationID int64) (bool, error) {
	_, err := s.conversationRepo.GetByIDForParticipant(ctx, conversationID, actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
