package chat

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoMessages   = errors.New("messages are required")
	ErrInvalidRole  = errors.New("message role must be user or assistant")
	ErrEmptyContent = errors.New("last message content is empty")
)

// Reply is the success body of the chat endpoint.
type Reply struct {
	Text string `json:"text"`
}

// ErrorResponse is the failure body of the chat endpoint. It doubles as the
// error value returned to callers when the endpoint answered with a
// well-formed error.
type ErrorResponse struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func (e *ErrorResponse) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// TransportError marks a failure to reach the chat endpoint at all.
// Only transport errors are worth retrying.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a transport failure.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// DateQuestion phrases the canonical question for a calendar date, e.g.
// "What happened on June 1, 2024 in history?". Without a year it reads
// "What happened on June 1 in history?".
func DateQuestion(t time.Time, withYear bool) string {
	layout := "January 2"
	if withYear {
		layout = "January 2, 2006"
	}
	return fmt.Sprintf("What happened on %s in history?", t.Format(layout))
}
