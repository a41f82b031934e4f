package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
)

// ErrCorrupt is returned when the session file cannot be decoded.
var ErrCorrupt = errors.New("session file is corrupt")

// FileStore keeps every session as one JSON array in a single file, the way
// the browser client kept them under one storage key. Writes replace the
// file atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore uses path, creating its directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Get(_ context.Context, id string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return chat.Session{}, err
	}
	for _, session := range sessions {
		if session.ID == id {
			return session, nil
		}
	}
	return chat.Session{}, ErrSessionNotFound
}

func (s *FileStore) Put(_ context.Context, session chat.Session) error {
	if session.ID == "" {
		return ErrSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if errors.Is(err, ErrCorrupt) {
		// Keep the unreadable file for inspection and start over.
		if renameErr := os.Rename(s.path, s.path+".corrupt"); renameErr != nil {
			return fmt.Errorf("move corrupt session file: %w", renameErr)
		}
		sessions, err = nil, nil
	}
	if err != nil {
		return err
	}

	replaced := false
	for i := range sessions {
		if sessions[i].ID == session.ID {
			sessions[i] = session.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append(sessions, session.Clone())
	}
	return s.save(sessions)
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return err
	}

	kept := sessions[:0]
	for _, session := range sessions {
		if session.ID != id {
			kept = append(kept, session)
		}
	}
	if len(kept) == len(sessions) {
		return nil
	}
	return s.save(kept)
}

func (s *FileStore) List(_ context.Context) ([]chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load()
	if err != nil {
		return nil, err
	}
	sortByRecent(sessions)
	return sessions, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) load() ([]chat.Session, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var sessions []chat.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return sessions, nil
}

func (s *FileStore) save(sessions []chat.Session) error {
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
