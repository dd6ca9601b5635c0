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

// CreateUser stores a new account. The password must already be hashed.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*db.User, error) {
	user := &db.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    s.timestamp(),
	}

	query := `
	INSERT INTO users (id, email, password_hash, session_version, created_at)
	VALUES (?, ?, ?, 0, ?)
	`

	if _, err := s.conn.ExecContext(ctx, s.q(query), user.ID, user.Email, user.PasswordHash, user.CreatedAt); err != nil {
		if s.dialect.IsUniqueViolation != nil && s.dialect.IsUniqueViolation(err) {
			return nil, db.ErrDuplicate
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"email": email, "user_id": user.ID}).Info("Created new user")
	return user, nil
}

// GetUserByEmail retrieves a user by email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*db.User, error) {
	var user db.User
	query := `SELECT id, email, password_hash, session_version, created_at FROM users WHERE email = ?`

	err := s.conn.QueryRowContext(ctx, s.q(query), email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.SessionVersion, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("error retrieving user: %w", err)
	}

	return &user, nil
}

// BumpSessionVersion invalidates every token issued to the user so far
func (s *Store) BumpSessionVersion(ctx context.Context, email string) error {
	query := `UPDATE users SET session_version = session_version + 1 WHERE email = ?`

	res, err := s.conn.ExecContext(ctx, s.q(query), email)
	if err != nil {
		return fmt.Errorf("error updating session version: %w", err)
	}
	return affected(res)
}

// DeleteUser removes the account row
func (s *Store) DeleteUser(ctx context.Context, email string) error {
	res, err := s.conn.ExecContext(ctx, s.q(`DELETE FROM users WHERE email = ?`), email)
	if err != nil {
		return fmt.Errorf("error deleting user: %w", err)
	}
	if err := affected(res); err != nil {
		return err
	}

	logger.Log.WithField("email", email).Info("Deleted user")
	return nil
}
