package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		content string
		want    string
	}{
		{content: "What happened on June 1, 2024 in history?", want: "June 1, 2024"},
		{content: "What happened on October 18 in history?", want: "October 18"},
		{content: "Tell me a joke", want: DefaultTitle},
		{content: "", want: DefaultTitle},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, DeriveTitle(tc.content), "content %q", tc.content)
	}
}

func TestSessionAppendNamesFromFirstUserMessageOnly(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	session := NewSession(now)
	require.NotEmpty(t, session.ID)
	assert.Equal(t, DefaultTitle, session.Title)

	later := now.Add(time.Minute)
	session.Append(Message{ID: NewMessageID(), Role: RoleUser, Content: "What happened on June 1, 2024 in history?"}, later)
	assert.Equal(t, "June 1, 2024", session.Title)
	assert.Equal(t, later, session.LastUpdated)

	session.Append(Message{ID: NewMessageID(), Role: RoleUser, Content: "What happened on July 4, 1776 in history?"}, later)
	assert.Equal(t, "June 1, 2024", session.Title)
}

func TestSessionAppendNonMatchingFirstMessageKeepsDefault(t *testing.T) {
	session := NewSession(time.Now())
	session.Append(Message{ID: NewMessageID(), Role: RoleUser, Content: "hello"}, time.Now())
	assert.Equal(t, DefaultTitle, session.Title)
}

func TestSetContentAndWithout(t *testing.T) {
	now := time.Now()
	session := NewSession(now)
	session.Append(Message{ID: "a", Role: RoleUser, Content: "q"}, now)
	session.Append(Message{ID: "b", Role: RoleAssistant}, now)

	assert.True(t, session.SetContent("b", "answer", now))
	assert.False(t, session.SetContent("missing", "x", now))
	assert.Equal(t, "answer", session.Messages[1].Content)

	trimmed := session.Without("b")
	require.Len(t, trimmed.Messages, 1)
	assert.Len(t, session.Messages, 2)
}

func TestEnvelopeFromSkipsFailedMessages(t *testing.T) {
	env := EnvelopeFrom([]Message{
		{ID: "1", Role: RoleUser, Content: "What happened on May 5 in history?"},
		{ID: "2", Role: RoleAssistant, Content: "Sorry, I encountered an error.", Failed: true},
	})

	require.Len(t, env.Messages, 1)
	assert.Equal(t, "What happened on May 5 in history?", env.LastContent())
	assert.NoError(t, env.Validate())
}

func TestEnvelopeValidate(t *testing.T) {
	assert.ErrorIs(t, Envelope{}.Validate(), ErrNoMessages)
	assert.ErrorIs(t, Envelope{Messages: []Turn{{Role: "system", Content: "x"}}}.Validate(), ErrInvalidRole)
	assert.ErrorIs(t, Envelope{Messages: []Turn{{Role: RoleUser, Content: "  "}}}.Validate(), ErrEmptyContent)
}

func TestDateQuestion(t *testing.T) {
	day := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "What happened on June 1, 2024 in history?", DateQuestion(day, true))
	assert.Equal(t, "What happened on June 1 in history?", DateQuestion(day, false))
	assert.Equal(t, "June 1, 2024", DeriveTitle(DateQuestion(day, true)))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&TransportError{Err: assert.AnError}))
	assert.False(t, IsTransient(&ErrorResponse{Status: 500, Message: "boom"}))
	assert.False(t, IsTransient(nil))
}
