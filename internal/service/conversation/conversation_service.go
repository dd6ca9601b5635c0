package conversation

import (
	"context"
	"errors"
	"fmt"

	"sati-chat/internal/logger"
	"sati-chat/internal/repository/db"

	"github.com/sirupsen/logrus"
)

// DefaultTitle is given to conversations created without one
const DefaultTitle = "New Chat"

var (
	// ErrUnauthenticated is returned when no user identity is present
	ErrUnauthenticated = errors.New("user not authenticated")
	// ErrNotFoundOrDenied covers both missing rows and rows owned by someone
	// else, so callers cannot probe for other users' ids.
	ErrNotFoundOrDenied = errors.New("conversation not found or access denied")
	// ErrInvalidRole is returned for message roles other than user/assistant
	ErrInvalidRole = errors.New("invalid message role")
)

// SessionTerminator ends a user's sessions and removes the account
type SessionTerminator interface {
	TerminateAccount(ctx context.Context, email string) error
}

// ConversationService handles the business logic for conversation management
type ConversationService struct {
	db       db.Database
	sessions SessionTerminator
}

// NewConversationService creates a new ConversationService
func NewConversationService(database db.Database, sessions SessionTerminator) *ConversationService {
	return &ConversationService{
		db:       database,
		sessions: sessions,
	}
}

// ListConversations returns the user's conversations, most recently updated first
func (s *ConversationService) ListConversations(ctx context.Context, email string) ([]db.Conversation, error) {
	if email == "" {
		return nil, ErrUnauthenticated
	}
	conversations, err := s.db.GetConversationsByUser(ctx, email, false)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve conversations: %w", err)
	}
	return conversations, nil
}

// ListBookmarked returns only bookmarked conversations, most recently updated first
func (s *ConversationService) ListBookmarked(ctx context.Context, email string) ([]db.Conversation, error) {
	if email == "" {
		return nil, ErrUnauthenticated
	}
	conversations, err := s.db.GetConversationsByUser(ctx, email, true)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve bookmarked conversations: %w", err)
	}
	return conversations, nil
}

// CreateConversation creates a conversation owned by email
func (s *ConversationService) CreateConversation(ctx context.Context, email, title string) (*db.Conversation, error) {
	if email == "" {
		return nil, ErrUnauthenticated
	}
	if title == "" {
		title = DefaultTitle
	}
	conv, err := s.db.CreateConversation(ctx, email, title)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns one conversation after checking ownership
func (s *ConversationService) GetConversation(ctx context.Context, email, id string) (*db.Conversation, error) {
	return s.authorize(ctx, email, id)
}

// RenameConversation changes the title of an owned conversation
func (s *ConversationService) RenameConversation(ctx context.Context, email, id, title string) error {
	if _, err := s.authorize(ctx, email, id); err != nil {
		return err
	}
	if err := s.db.UpdateConversationTitle(ctx, id, email, title); err != nil {
		return mapStoreError("failed to rename conversation", err)
	}
	return nil
}

// SetBookmark sets the bookmark flag of an owned conversation
func (s *ConversationService) SetBookmark(ctx context.Context, email, id string, bookmarked bool) error {
	if _, err := s.authorize(ctx, email, id); err != nil {
		return err
	}
	if err := s.db.SetConversationBookmark(ctx, id, email, bookmarked); err != nil {
		return mapStoreError("failed to update bookmark", err)
	}
	return nil
}

// DeleteConversation removes an owned conversation and its messages
func (s *ConversationService) DeleteConversation(ctx context.Context, email, id string) error {
	if _, err := s.authorize(ctx, email, id); err != nil {
		return err
	}
	if err := s.db.DeleteConversation(ctx, id, email); err != nil {
		return mapStoreError("failed to delete conversation", err)
	}
	return nil
}

// ListMessages returns the messages of an owned conversation, oldest first
func (s *ConversationService) ListMessages(ctx context.Context, email, conversationID string) ([]db.Message, error) {
	if _, err := s.authorize(ctx, email, conversationID); err != nil {
		return nil, err
	}
	messages, err := s.db.GetConversationMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve messages: %w", err)
	}
	return messages, nil
}

// AddMessage appends a message to an owned conversation
func (s *ConversationService) AddMessage(ctx context.Context, email, conversationID, role, content, model string) (*db.Message, error) {
	if role != db.RoleUser && role != db.RoleAssistant {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if _, err := s.authorize(ctx, email, conversationID); err != nil {
		return nil, err
	}
	msg, err := s.db.AddMessage(ctx, conversationID, role, content, model)
	if err != nil {
		return nil, mapStoreError("failed to add message", err)
	}
	return msg, nil
}

// DeleteAccount removes everything the user owns and then the account
// itself. Message cleanup is best effort per conversation; the conversation
// sweep that follows also removes anything left behind. The account is
// terminated even when cleanup fails, and every failure is returned.
func (s *ConversationService) DeleteAccount(ctx context.Context, email string) error {
	if email == "" {
		return ErrUnauthenticated
	}

	var errs []error
	conversations, err := s.db.GetConversationsByUser(ctx, email, false)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to retrieve conversations: %w", err))
	}

	for _, conv := range conversations {
		if err := s.db.DeleteMessages(ctx, conv.ID); err != nil {
			logger.Log.WithError(err).WithFields(logrus.Fields{"conversation_id": conv.ID, "email": email}).Warn("Failed to delete messages during account deletion")
		}
	}

	if err := s.db.DeleteConversationsByUser(ctx, email); err != nil {
		errs = append(errs, fmt.Errorf("failed to delete conversations: %w", err))
	}

	if s.sessions != nil {
		if err := s.sessions.TerminateAccount(ctx, email); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate account: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		logger.Log.WithError(err).WithField("email", email).Error("Account deletion incomplete")
		return err
	}
	logger.Log.WithFields(logrus.Fields{"email": email, "conversations": len(conversations)}).Info("Account deleted")
	return nil
}

// authorize loads the conversation and verifies the caller owns it
func (s *ConversationService) authorize(ctx context.Context, email, id string) (*db.Conversation, error) {
	if email == "" {
		return nil, ErrUnauthenticated
	}
	conv, err := s.db.GetConversation(ctx, id)
	if err != nil {
		return nil, mapStoreError("failed to retrieve conversation", err)
	}
	if conv.UserEmail != email {
		logger.Log.WithFields(logrus.Fields{"conversation_id": id, "email": email}).Warn("Conversation access denied")
		return nil, ErrNotFoundOrDenied
	}
	return conv, nil
}

func mapStoreError(msg string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFoundOrDenied
	}
	return fmt.Errorf("%s: %w", msg, err)
}
