package vaultauth

import (
	"sync"
	"time"
)

// SessionManager issues short-lived in-memory handles binding a session id
// to an unwrapped KEK and the resolved vault type. Sessions are never
// persisted; a process restart invalidates all of them. Expiry is checked
// lazily on access; Sweep may be called periodically to reclaim memory but
// is not required for correctness.
//
// The manager does not enforce one session per (user, vault): creating a
// second session for the same pair yields an independent handle. Callers
// invalidate stale handles on logout or vault switch via DestroyAll.
type SessionManager struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*session
	now      func() time.Time
}

type session struct {
	userID    string
	vaultID   string
	vaultType VaultType
	kek       SensitiveBytes
	createdAt time.Time
	expiresAt time.Time
}

// SessionView is the caller-facing snapshot of a live session. KEK is an
// independent copy; the caller owns it and should zero it after use.
type SessionView struct {
	ID        string
	UserID    string
	VaultID   string
	VaultType VaultType
	KEK       SensitiveBytes
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewSessionManager creates a manager with the given session TTL.
func NewSessionManager(ttl time.Duration) *SessionManager {
	return &SessionManager{
		ttl:      ttl,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Create opens a session bound to a copy of kek and returns its handle.
func (m *SessionManager) Create(userID, vaultID string, kek []byte, vaultType VaultType) (string, error) {
	id, err := newSessionID()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sessions[id] = &session{
		userID:    userID,
		vaultID:   vaultID,
		vaultType: vaultType,
		kek:       SensitiveBytes(kek).Clone(),
		createdAt: now,
		expiresAt: now.Add(m.ttl),
	}
	return id, nil
}

// Get returns a view of the session, or ErrSessionNotFound when the handle
// is unknown or expired. Expired sessions are evicted on the spot.
func (m *SessionManager) Get(id string) (*SessionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if m.now().After(s.expiresAt) {
		m.destroyLocked(id, s)
		return nil, ErrSessionNotFound
	}
	return &SessionView{
		ID:        id,
		UserID:    s.userID,
		VaultID:   s.vaultID,
		VaultType: s.vaultType,
		KEK:       s.kek.Clone(),
		CreatedAt: s.createdAt,
		ExpiresAt: s.expiresAt,
	}, nil
}

// Destroy tears down a session and zeroes its key material. Destroying an
// unknown handle is a no-op.
func (m *SessionManager) Destroy(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		m.destroyLocked(id, s)
	}
}

// DestroyAll tears down every session for the (user, vault) pair. Used on
// logout and vault switch.
func (m *SessionManager) DestroyAll(userID, vaultID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.userID == userID && s.vaultID == vaultID {
			m.destroyLocked(id, s)
		}
	}
}

// Sweep evicts expired sessions and returns how many were reclaimed.
func (m *SessionManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	evicted := 0
	for id, s := range m.sessions {
		if now.After(s.expiresAt) {
			m.destroyLocked(id, s)
			evicted++
		}
	}
	return evicted
}

// destroyLocked zeroes the KEK and removes the entry. Caller must hold m.mu.
func (m *SessionManager) destroyLocked(id string, s *session) {
	s.kek.Zero()
	s.kek = nil
	delete(m.sessions, id)
}
