package chat

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is used until a date question names the session.
const DefaultTitle = "New Chat"

var titlePattern = regexp.MustCompile(`What happened on (.+) in history\?`)

// Session is one persisted conversation thread.
type Session struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// NewSession returns an empty session with a fresh identifier.
func NewSession(now time.Time) Session {
	now = now.UTC()
	return Session{
		ID:          uuid.NewString(),
		Title:       DefaultTitle,
		Messages:    make([]Message, 0, 8),
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// NewMessageID generates a unique message identifier.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

// DeriveTitle extracts the date from a "What happened on ... in history?"
// question, falling back to DefaultTitle.
func DeriveTitle(content string) string {
	match := titlePattern.FindStringSubmatch(content)
	if len(match) < 2 || match[1] == "" {
		return DefaultTitle
	}
	return match[1]
}

// Append adds a message, bumps LastUpdated and names the session from its
// first user message.
func (s *Session) Append(msg Message, now time.Time) {
	first := msg.Role == RoleUser && !s.hasUserMessage()
	s.Messages = append(s.Messages, msg)
	if first {
		s.Title = DeriveTitle(msg.Content)
	}
	if s.Title == "" {
		s.Title = DefaultTitle
	}
	s.LastUpdated = now.UTC()
}

// SetContent replaces the content of the message with the given id.
func (s *Session) SetContent(id, content string, now time.Time) bool {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			s.Messages[i].Content = content
			s.LastUpdated = now.UTC()
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s Session) Clone() Session {
	out := s
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	return out
}

// Without returns a copy of the session that omits the message with the given id.
func (s Session) Without(id string) Session {
	out := s
	out.Messages = make([]Message, 0, len(s.Messages))
	for _, msg := range s.Messages {
		if msg.ID != id {
			out.Messages = append(out.Messages, msg)
		}
	}
	return out
}

func (s *Session) hasUserMessage() bool {
	for _, msg := range s.Messages {
		if msg.Role == RoleUser {
			return true
		}
	}
	return false
}
