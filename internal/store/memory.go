package store

import (
	"context"
	"sync"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]chat.Session)}
}

// Get retrieves a session by identifier.
func (s *MemoryStore) Get(_ context.Context, id string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Put inserts or replaces a session.
func (s *MemoryStore) Put(_ context.Context, session chat.Session) error {
	if session.ID == "" {
		return ErrSessionIDEmpty
	}

	s.mu.Lock()
	s.sessions[session.ID] = session.Clone()
	s.mu.Unlock()
	return nil
}

// Delete removes a session; deleting a missing id is not an error.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// List returns copies of all sessions, most recent first.
func (s *MemoryStore) List(_ context.Context) ([]chat.Session, error) {
	s.mu.RLock()
	out := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	s.mu.RUnlock()

	sortByRecent(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
