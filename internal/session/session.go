// Package session tracks the in-flight send of each chat session so a new
// send or an explicit stop can cancel it.
package session

import (
	"context"
	"sync"

	"sati-chat/internal/logger"

	"github.com/sirupsen/logrus"
)

// Session holds the cancellation handle of one chat session's current send
type Session struct {
	Key string

	manager *Manager
	mu      sync.Mutex
	cancel  context.CancelFunc
	gen     uint64
	loading bool
}

// Manager manages multiple chat sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewManager creates a new session manager
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate gets or creates the session for key
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(key)
}

func (m *Manager) getOrCreateLocked(key string) *Session {
	if s, exists := m.sessions[key]; exists {
		return s
	}

	s := &Session{Key: key, manager: m}
	m.sessions[key] = s
	logger.Log.WithField("session", key).Debug("[SESSION] Created session")
	return s
}

// Begin starts a send on the session for key, creating it if needed.
// The session is forgotten once its last send finishes.
func (m *Manager) Begin(parent context.Context, key string) (context.Context, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(key).Begin(parent)
}

// release forgets s if it is still registered and idle
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[s.Key] != s || s.IsLoading() {
		return
	}
	delete(m.sessions, s.Key)
	logger.Log.WithField("session", s.Key).Debug("[SESSION] Released idle session")
}

// Get retrieves an existing session, or nil
func (m *Manager) Get(key string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sessions[key]
}

// Delete stops and forgets the session for key
func (m *Manager) Delete(key string) {
	m.mu.Lock()
	s, exists := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if exists {
		s.Stop()
		logger.Log.WithField("session", key).Debug("[SESSION] Deleted session")
	}
}

// Stop cancels the in-flight send of key, reporting whether there was one
func (m *Manager) Stop(key string) bool {
	if s := m.Get(key); s != nil {
		return s.Stop()
	}
	return false
}

// IsLoading reports whether key has a send in flight
func (m *Manager) IsLoading(key string) bool {
	if s := m.Get(key); s != nil {
		return s.IsLoading()
	}
	return false
}

// Begin cancels any send already in flight and starts a new one. The
// returned context is cancelled by Stop, by the next Begin, or by done.
// done must be called exactly once when the send finishes.
func (s *Session) Begin(parent context.Context) (ctx context.Context, done func()) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		logger.Log.WithFields(logrus.Fields{"session": s.Key, "generation": s.gen}).Info("[SESSION] Replaced in-flight send")
	}
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.loading = true
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		latest := s.gen == gen
		if latest {
			s.cancel = nil
			s.loading = false
		}
		s.mu.Unlock()
		cancel()

		if latest && s.manager != nil {
			s.manager.release(s)
		}
	}
}

// Stop cancels the current send, reporting whether one was in flight
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	s.loading = false
	return true
}

// IsLoading reports whether a send is in flight
func (s *Session) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}
