package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sati-chat/internal/logger"
	"sati-chat/internal/repository/db"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const conversationColumns = `id, user_email, title, is_bookmarked, created_at, updated_at`

// CreateConversation creates a new conversation for a user
func (s *Store) CreateConversation(ctx context.Context, userEmail, title string) (*db.Conversation, error) {
	now := s.timestamp()
	conv := &db.Conversation{
		ID:        uuid.New().String(),
		UserEmail: userEmail,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
	INSERT INTO conversations (id, user_email, title, is_bookmarked, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, s.q(query), conv.ID, conv.UserEmail, conv.Title, false, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("error creating conversation: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"conversation_id": conv.ID, "user_email": userEmail}).Info("Created new conversation")
	return conv, nil
}

// GetConversation retrieves a specific conversation
func (s *Store) GetConversation(ctx context.Context, id string) (*db.Conversation, error) {
	var conv db.Conversation
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	err := s.conn.QueryRowContext(ctx, s.q(query), id).Scan(&conv.ID, &conv.UserEmail, &conv.Title, &conv.IsBookmarked, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("error retrieving conversation: %w", err)
	}

	return &conv, nil
}

// GetConversationsByUser retrieves a user's conversations, most recently
// updated first
func (s *Store) GetConversationsByUser(ctx context.Context, userEmail string, bookmarkedOnly bool) ([]db.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_email = ?`
	args := []any{userEmail}
	if bookmarkedOnly {
		query += ` AND is_bookmarked = ?`
		args = append(args, true)
	}
	query += ` ORDER BY updated_at DESC, id`

	rows, err := s.conn.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("error querying conversations: %w", err)
	}
	defer rows.Close()

	conversations := []db.Conversation{}
	for rows.Next() {
		var conv db.Conversation
		if err := rows.Scan(&conv.ID, &conv.UserEmail, &conv.Title, &conv.IsBookmarked, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}

	return conversations, nil
}

// UpdateConversationTitle renames a conversation owned by userEmail
func (s *Store) UpdateConversationTitle(ctx context.Context, id, userEmail, title string) error {
	query := `UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND user_email = ?`

	res, err := s.conn.ExecContext(ctx, s.q(query), title, s.timestamp(), id, userEmail)
	if err != nil {
		return fmt.Errorf("error updating conversation title: %w", err)
	}
	return affected(res)
}

// SetConversationBookmark sets the bookmark flag and bumps updated_at
func (s *Store) SetConversationBookmark(ctx context.Context, id, userEmail string, bookmarked bool) error {
	query := `UPDATE conversations SET is_bookmarked = ?, updated_at = ? WHERE id = ? AND user_email = ?`

	res, err := s.conn.ExecContext(ctx, s.q(query), bookmarked, s.timestamp(), id, userEmail)
	if err != nil {
		return fmt.Errorf("error updating bookmark: %w", err)
	}
	return affected(res)
}

// DeleteConversation deletes the messages and then the conversation in one
// transaction
func (s *Store) DeleteConversation(ctx context.Context, id, userEmail string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, s.q(`SELECT user_email FROM conversations WHERE id = ?`), id).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userEmail) {
			return db.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("error checking conversation owner: %w", err)
		}

		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM messages WHERE conversation_id = ?`), id); err != nil {
			return fmt.Errorf("error deleting messages: %w", err)
		}

		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM conversations WHERE id = ? AND user_email = ?`), id, userEmail)
		if err != nil {
			return fmt.Errorf("error deleting conversation: %w", err)
		}
		return affected(res)
	})
	if err != nil {
		return err
	}

	logger.Log.WithFields(logrus.Fields{"conversation_id": id, "user_email": userEmail}).Info("Deleted conversation")
	return nil
}

// DeleteConversationsByUser deletes every conversation a user owns along
// with any messages still attached to them
func (s *Store) DeleteConversationsByUser(ctx context.Context, userEmail string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `DELETE FROM messages WHERE conversation_id IN (SELECT id FROM conversations WHERE user_email = ?)`
		if _, err := tx.ExecContext(ctx, s.q(query), userEmail); err != nil {
			return fmt.Errorf("error deleting user messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM conversations WHERE user_email = ?`), userEmail); err != nil {
			return fmt.Errorf("error deleting user conversations: %w", err)
		}
		return nil
	})
}

// AddMessage adds a message to a conversation and bumps the conversation's
// updated_at in the same transaction
func (s *Store) AddMessage(ctx context.Context, conversationID, role, content, model string) (*db.Message, error) {
	msg := &db.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Model:          model,
		CreatedAt:      s.timestamp(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE conversations SET updated_at = ? WHERE id = ?`), msg.CreatedAt, conversationID)
		if err != nil {
			return fmt.Errorf("error updating conversation timestamp: %w", err)
		}
		if err := affected(res); err != nil {
			return err
		}

		query := `
		INSERT INTO messages (id, conversation_id, role, content, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, s.q(query), msg.ID, msg.ConversationID, msg.Role, msg.Content, nullable(msg.Model), msg.CreatedAt); err != nil {
			return fmt.Errorf("error adding message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{"conversation_id": conversationID, "role": role}).Debug("Added message")
	return msg, nil
}

// GetConversationMessages retrieves messages oldest first
func (s *Store) GetConversationMessages(ctx context.Context, conversationID string) ([]db.Message, error) {
	query := `
	SELECT id, conversation_id, role, content, COALESCE(model, ''), created_at
	FROM messages
	WHERE conversation_id = ?
	ORDER BY created_at ASC, id
	`

	rows, err := s.conn.QueryContext(ctx, s.q(query), conversationID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	messages := []db.Message{}
	for rows.Next() {
		var msg db.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Model, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// DeleteMessages removes every message of a conversation
func (s *Store) DeleteMessages(ctx context.Context, conversationID string) error {
	if _, err := s.conn.ExecContext(ctx, s.q(`DELETE FROM messages WHERE conversation_id = ?`), conversationID); err != nil {
		return fmt.Errorf("error deleting messages: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
