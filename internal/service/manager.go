package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionFactory builds a session for a console user. token is the user's
// bearer token, forwarded to the order API.
type SessionFactory func(id uuid.UUID, token string) *OrderSession

// SessionManager tracks the open edit sessions of the console.
type SessionManager struct {
	newSession SessionFactory

	mu       sync.RWMutex
	sessions map[uuid.UUID]*OrderSession
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(factory SessionFactory) *SessionManager {
	return &SessionManager{
		newSession: factory,
		sessions:   make(map[uuid.UUID]*OrderSession),
	}
}

// Create opens an empty session.
func (m *SessionManager) Create(token string) *OrderSession {
	s := m.newSession(uuid.New(), token)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s
}

func (m *SessionManager) Get(id uuid.UUID) (*OrderSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close closes and forgets a session. It reports whether the session existed.
func (m *SessionManager) Close(id uuid.UUID) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

// Sweep closes sessions unused for longer than maxIdle and returns how many.
func (m *SessionManager) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	var idle []*OrderSession
	for id, s := range m.sessions {
		if s.LastUsed().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	return len(idle)
}

// CloseAll closes every session, aborting their requests.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[uuid.UUID]*OrderSession)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
