package db

import "time"

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User represents an account, identified by email
type User struct {
	ID           string
	Email        string
	PasswordHash string
	// SessionVersion is embedded in issued tokens; bumping it signs the
	// user out everywhere.
	SessionVersion int
	CreatedAt      time.Time
}

// Conversation represents a conversation in the database
type Conversation struct {
	ID           string
	UserEmail    string
	Title        string
	IsBookmarked bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message represents a message in a conversation
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Model          string
	CreatedAt      time.Time
}
