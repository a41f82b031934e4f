package stream

import (
	"net/http"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
	"github.com/zhouzirui/onthisday/backend/internal/reveal"
	"github.com/zhouzirui/onthisday/backend/internal/service/ai"
	"github.com/zhouzirui/onthisday/backend/pkg/utils"
)

// Handler streams a chat reply to the client via Server-Sent Events, paced
// the same way the session controller reveals it.
type Handler struct {
	svc    ai.Chatter
	pacing reveal.Config
	logger *zap.Logger
}

// New creates a new stream handler
func New(svc ai.Chatter, pacing reveal.Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, pacing: pacing, logger: logger.Named("stream")}
}

// RegisterRoutes mounts the streaming variant of the chat endpoint.
func (h *Handler) RegisterRoutes(r chi.Router, middlewares ...func(http.Handler) http.Handler) {
	r.With(middlewares...).Post("/gemini/chat/stream", h.handleStream)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event    string `json:"event"`
	Content  string `json:"content,omitempty"`
	Length   int    `json:"length,omitempty"`
	Finished bool   `json:"finished,omitempty"`
}

// handleStream answers with a JSON error body when the reply cannot be
// produced, otherwise with start, chunk... and end events.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if checker, ok := h.svc.(ai.Checker); ok {
		if err := checker.Ready(); err != nil {
			status, resp := ai.Describe(err)
			utils.RespondJSON(w, status, resp)
			return
		}
	}

	var env chat.Envelope
	if err := utils.DecodeJSON(r, &env); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	text, err := h.svc.Chat(ctx, env)
	if err != nil {
		status, resp := ai.Describe(err)
		h.logger.Warn("chat request failed", zap.Int("status", status), zap.Error(err))
		utils.RespondJSON(w, status, resp)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEChunk(w, flusher, StreamResponse{Event: "start", Length: utf8.RuneCountInString(text)}); err != nil {
		return
	}

	// Buffered for every step so the scheduler never blocks on a gone client.
	progress := make(chan string, len(reveal.Steps(text, h.pacing.Chunk))+1)
	done := make(chan struct{})

	sched := reveal.NewScheduler(h.pacing)
	defer sched.Stop()
	sched.Start(reveal.Job{
		ID:         "reply",
		Full:       text,
		OnProgress: func(_, shown string) { progress <- shown },
		OnCommit:   func(_, _ string) { close(done) },
	})

	sent := 0
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("client went away mid-stream")
			return
		case shown := <-progress:
			if err := utils.SendSSEChunk(w, flusher, StreamResponse{Event: "chunk", Content: shown[sent:]}); err != nil {
				return
			}
			sent = len(shown)
		case <-done:
			// Flush anything the progress channel still holds before finishing.
			for len(progress) > 0 {
				shown := <-progress
				if err := utils.SendSSEChunk(w, flusher, StreamResponse{Event: "chunk", Content: shown[sent:]}); err != nil {
					return
				}
				sent = len(shown)
			}
			if sent < len(text) {
				if err := utils.SendSSEChunk(w, flusher, StreamResponse{Event: "chunk", Content: text[sent:]}); err != nil {
					return
				}
			}
			_ = utils.SendSSEChunk(w, flusher, StreamResponse{Event: "end", Finished: true})
			return
		}
	}
}
