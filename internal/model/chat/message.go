package chat

import "strings"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single turn in a session. Content is immutable once delivered,
// except for an assistant message under reveal which grows until committed.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Failed marks a visible error notice. Failed messages are never sent upstream.
	Failed bool `json:"failed,omitempty"`
}

// Turn is the wire projection of a message, stripped of identifiers.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Envelope is the request body accepted by the chat endpoint.
type Envelope struct {
	Messages []Turn `json:"messages"`
}

// EnvelopeFrom projects messages into an Envelope, dropping failed notices.
func EnvelopeFrom(messages []Message) Envelope {
	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		if msg.Failed {
			continue
		}
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content})
	}
	return Envelope{Messages: turns}
}

// LastContent returns the content of the final turn, or "" for an empty envelope.
func (e Envelope) LastContent() string {
	if len(e.Messages) == 0 {
		return ""
	}
	return e.Messages[len(e.Messages)-1].Content
}

// Validate checks that the envelope carries at least one non-blank turn with a known role.
func (e Envelope) Validate() error {
	if len(e.Messages) == 0 {
		return ErrNoMessages
	}
	for _, turn := range e.Messages {
		if !turn.Role.Valid() {
			return ErrInvalidRole
		}
	}
	if strings.TrimSpace(e.LastContent()) == "" {
		return ErrEmptyContent
	}
	return nil
}
