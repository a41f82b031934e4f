package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
	"github.com/zhouzirui/onthisday/backend/internal/service/ai"
	"github.com/zhouzirui/onthisday/backend/pkg/utils"
)

// Handler 聊天代理接口的HTTP处理器
type Handler struct {
	svc    ai.Chatter
	logger *zap.Logger
}

// New 创建聊天处理器
func New(svc ai.Chatter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger.Named("chat")}
}

// RegisterRoutes 注册聊天相关的路由，middlewares 只作用于聊天接口
func (h *Handler) RegisterRoutes(r chi.Router, middlewares ...func(http.Handler) http.Handler) {
	r.With(middlewares...).Post("/gemini/chat", h.handleChat)
}

// handleChat 将对话转发给模型并返回 {text} 或 {error, details}
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	// 先检查凭证，再解析请求体
	if checker, ok := h.svc.(ai.Checker); ok {
		if err := checker.Ready(); err != nil {
			status, resp := ai.Describe(err)
			h.logger.Error("chat endpoint not configured", zap.Error(err))
			utils.RespondJSON(w, status, resp)
			return
		}
	}

	var env chat.Envelope
	if err := utils.DecodeJSON(r, &env); err != nil {
		message := "invalid request body"
		if errors.Is(err, utils.ErrEmptyBody) {
			message = "request body is required"
		}
		utils.RespondError(w, http.StatusBadRequest, message)
		return
	}

	text, err := h.svc.Chat(r.Context(), env)
	if err != nil {
		status, resp := ai.Describe(err)
		h.logger.Warn("chat request failed",
			zap.Int("status", status),
			zap.Int("turns", len(env.Messages)),
			zap.Error(err),
		)
		utils.RespondJSON(w, status, resp)
		return
	}

	utils.RespondJSON(w, http.StatusOK, chat.Reply{Text: text})
}
