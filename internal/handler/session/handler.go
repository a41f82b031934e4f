package session

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/onthisday/backend/internal/service/chat"
	"github.com/zhouzirui/onthisday/backend/internal/store"
	"github.com/zhouzirui/onthisday/backend/pkg/utils"
)

// Guard serializes writes against live controllers. Exclusive runs fn only
// while no live controller owns the session.
type Guard interface {
	Exclusive(id string, fn func() error) error
}

// Handler 会话存储的HTTP处理器
type Handler struct {
	store  store.Store
	guard  Guard
	logger *zap.Logger
	now    func() time.Time
}

// New 创建会话处理器。guard 可以为 nil
func New(st store.Store, guard Guard, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: st, guard: guard, logger: logger.Named("sessions"), now: time.Now}
}

// RegisterRoutes 注册会话相关的路由，r 应挂载在 /sessions 下
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{sessionID}", h.handleGet)
	r.Put("/{sessionID}", h.handlePut)
	r.Delete("/{sessionID}", h.handleDelete)
}

// sessionSummary 是侧边栏使用的会话摘要
type sessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// handleList 按最近更新时间列出会话
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, sessionSummary{
			ID:           s.ID,
			Title:        s.Title,
			MessageCount: len(s.Messages),
			CreatedAt:    s.CreatedAt,
			LastUpdated:  s.LastUpdated,
		})
	}
	utils.RespondJSON(w, http.StatusOK, summaries)
}

// handleCreate 创建空会话
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	s := chat.NewSession(h.now())
	if err := h.store.Put(r.Context(), s); err != nil {
		h.fail(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, s)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, s)
}

// handlePut 保存客户端提交的完整会话
func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var s chat.Session
	if err := utils.DecodeJSON(r, &s); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.ID != "" && s.ID != id {
		utils.RespondError(w, http.StatusBadRequest, "session id mismatch")
		return
	}
	s.ID = id

	for _, msg := range s.Messages {
		if msg.ID == "" || !msg.Role.Valid() {
			utils.RespondError(w, http.StatusBadRequest, "every message needs an id and a user or assistant role")
			return
		}
	}

	now := h.now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.LastUpdated = now
	if strings.TrimSpace(s.Title) == "" {
		s.Title = titleFor(s.Messages)
	}

	err := h.exclusive(id, func() error {
		return h.store.Put(r.Context(), s)
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, s)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	err := h.exclusive(id, func() error {
		return h.store.Delete(r.Context(), id)
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// exclusive 在没有实时连接持有该会话时执行写操作
func (h *Handler) exclusive(id string, fn func() error) error {
	if h.guard == nil {
		return fn()
	}
	return h.guard.Exclusive(id, fn)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatservice.ErrSessionLive):
		utils.RespondError(w, http.StatusConflict, "session is open in a live connection")
	case errors.Is(err, store.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrSessionIDEmpty):
		utils.RespondError(w, http.StatusBadRequest, "session id is required")
	default:
		h.logger.Error("session store failure", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "session store unavailable")
	}
}

func titleFor(messages []chat.Message) string {
	for _, msg := range messages {
		if msg.Role == chat.RoleUser {
			return chat.DeriveTitle(msg.Content)
		}
	}
	return chat.DefaultTitle
}
