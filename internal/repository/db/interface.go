package db

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no row matches, including rows owned by
	// another user on owner-scoped statements.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key already exists
	ErrDuplicate = errors.New("record already exists")
)

// Database is the persistence contract shared by the postgres and sqlite stores
type Database interface {
	// Users
	CreateUser(ctx context.Context, email, passwordHash string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	BumpSessionVersion(ctx context.Context, email string) error
	DeleteUser(ctx context.Context, email string) error

	// Conversations
	CreateConversation(ctx context.Context, userEmail, title string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationsByUser(ctx context.Context, userEmail string, bookmarkedOnly bool) ([]Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, userEmail, title string) error
	SetConversationBookmark(ctx context.Context, id, userEmail string, bookmarked bool) error
	// DeleteConversation removes the conversation and its messages atomically
	DeleteConversation(ctx context.Context, id, userEmail string) error
	DeleteConversationsByUser(ctx context.Context, userEmail string) error

	// Messages
	// AddMessage inserts the message and touches the parent atomically
	AddMessage(ctx context.Context, conversationID, role, content, model string) (*Message, error)
	GetConversationMessages(ctx context.Context, conversationID string) ([]Message, error)
	DeleteMessages(ctx context.Context, conversationID string) error

	Close() error
}
