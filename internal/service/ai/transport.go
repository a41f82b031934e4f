package ai

import (
	"context"
	"errors"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
)

// Chatter answers chat envelopes. *Service implements it.
type Chatter interface {
	Chat(ctx context.Context, env chat.Envelope) (string, error)
}

// Checker is implemented by chatters that can report a configuration problem
// before any request is read. *Service implements it.
type Checker interface {
	Ready() error
}

// LocalTransport lets an in-process session controller call the service
// directly, seeing the same error bodies an HTTP client would.
type LocalTransport struct {
	svc Chatter
}

// NewLocalTransport wraps svc.
func NewLocalTransport(svc Chatter) *LocalTransport {
	return &LocalTransport{svc: svc}
}

// Chat implements the session controller's transport.
func (t *LocalTransport) Chat(ctx context.Context, env chat.Envelope) (string, error) {
	text, err := t.svc.Chat(ctx, env)
	if errors.Is(err, context.Canceled) {
		return "", &chat.TransportError{Err: err}
	}
	if err != nil {
		_, resp := Describe(err)
		return "", &resp
	}
	return text, nil
}
