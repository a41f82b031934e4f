package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/onthisday/backend/internal/service/chat"
)

// renderer prints controller snapshots as a scrolling transcript: replies are
// written as they are revealed and each message is printed once.
type renderer struct {
	mu       sync.Mutex
	out      io.Writer
	seen     map[string]bool
	revealID string
	printed  int
	waiting  bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, seen: make(map[string]bool)}
}

// replay prints history that was already in the session when it was opened.
func (r *renderer) replay(messages []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range messages {
		if msg.Role == chat.RoleUser {
			r.seen[msg.ID] = true
			fmt.Fprintf(r.out, "You: %s\n", msg.Content)
			continue
		}
		r.printMessage(msg)
	}
}

func (r *renderer) render(snap chatservice.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Phase == chatservice.PhaseSending && !r.waiting {
		r.waiting = true
		fmt.Fprintln(r.out, "... thinking")
	}
	if snap.Phase != chatservice.PhaseSending {
		r.waiting = false
	}

	if snap.Reveal != nil {
		if snap.Reveal.MessageID != r.revealID {
			r.revealID = snap.Reveal.MessageID
			r.printed = 0
			r.seen[r.revealID] = true
			fmt.Fprint(r.out, "Assistant: ")
		}
		r.advance(snap.Reveal.Shown)
	}

	for _, msg := range snap.Session.Messages {
		if msg.ID == r.revealID && snap.Reveal == nil {
			r.advance(msg.Content)
			fmt.Fprintln(r.out)
			r.revealID = ""
			continue
		}
		if !r.seen[msg.ID] {
			r.printMessage(msg)
		}
	}
}

func (r *renderer) advance(shown string) {
	if len(shown) > r.printed {
		fmt.Fprint(r.out, shown[r.printed:])
		r.printed = len(shown)
	}
}

func (r *renderer) printMessage(msg chat.Message) {
	r.seen[msg.ID] = true
	switch {
	case msg.Failed:
		fmt.Fprintf(r.out, "! %s\n  (type /retry to try again)\n", msg.Content)
	case msg.Role == chat.RoleAssistant:
		fmt.Fprintf(r.out, "Assistant: %s\n", msg.Content)
	default:
		// The prompt already echoed what the user typed.
	}
}
