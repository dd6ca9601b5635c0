// Package sqlstore implements db.Database over database/sql. The postgres and
// sqlite packages open the connection and supply the dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"sati-chat/internal/logger"
	"sati-chat/internal/repository/db"
)

// Dialect captures the differences between the supported engines
type Dialect struct {
	Name string
	// Positional rewrites '?' placeholders into the engine's syntax
	Positional bool
	// IsUniqueViolation recognises duplicate-key errors
	IsUniqueViolation func(error) bool
}

// Store implements db.Database
type Store struct {
	conn    *sql.DB
	dialect Dialect
	clock   func() time.Time

	mu   sync.Mutex
	last time.Time
}

var _ db.Database = (*Store)(nil)

// New wraps an open connection
func New(conn *sql.DB, dialect Dialect) *Store {
	return &Store{conn: conn, dialect: dialect, clock: time.Now}
}

// SetClock replaces the time source
func (s *Store) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sql.DB {
	return s.conn
}

// q adapts a query written with '?' placeholders
func (s *Store) q(query string) string {
	if !s.dialect.Positional {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timestamp returns a strictly increasing UTC time so rows written in the
// same microsecond still order by insertion.
func (s *Store) timestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.clock().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// withTx runs fn in a transaction, rolling back on error
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Log.WithError(rbErr).Warn("Error rolling back transaction")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}
