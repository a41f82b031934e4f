// Package store persists chat sessions behind a small key-value interface so
// the session controller never depends on a particular backend.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionIDEmpty  = errors.New("session id is required")
)

// Store keeps sessions keyed by id.
type Store interface {
	Get(ctx context.Context, id string) (chat.Session, error)
	Put(ctx context.Context, session chat.Session) error
	Delete(ctx context.Context, id string) error
	// List returns every session, most recently updated first.
	List(ctx context.Context) ([]chat.Session, error)
	Close() error
}

// Restore reopens the most recently updated session. Any read or decode
// failure is logged and answered with a fresh session.
func Restore(ctx context.Context, s Store, logger *zap.Logger) chat.Session {
	if logger == nil {
		logger = zap.NewNop()
	}

	sessions, err := s.List(ctx)
	if err != nil {
		logger.Warn("failed to load sessions, starting fresh", zap.Error(err))
		return chat.NewSession(time.Now())
	}
	if len(sessions) == 0 || sessions[0].ID == "" {
		return chat.NewSession(time.Now())
	}
	return sessions[0]
}

func sortByRecent(sessions []chat.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastUpdated.After(sessions[j].LastUpdated)
	})
}
