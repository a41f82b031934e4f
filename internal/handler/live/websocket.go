package live

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/onthisday/backend/internal/service/chat"
	"github.com/zhouzirui/onthisday/backend/internal/store"
	"github.com/zhouzirui/onthisday/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Handler WebSocket实时会话处理器，同一会话的连接共享一个会话控制器
type Handler struct {
	registry *chatservice.Registry
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New 创建实时会话处理器
func New(registry *chatservice.Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		logger:   logger.Named("live"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册WebSocket路由，r 应挂载在 /sessions 下
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/{sessionID}/live", h.handleLive)
}

type inboundMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// handleLive 处理WebSocket连接
func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	lease, err := h.registry.Acquire(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("failed to load session", zap.String("session_id", sessionID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}

	defer lease.Release()
	ctrl := lease.Controller

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("session_id", sessionID))
	logger.Info("connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	box := newOutbox()

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		defer cancel()
		h.writeLoop(ctx, conn, box, logger)
	}()
	defer writer.Wait()
	defer cancel()

	unsubscribe := ctrl.Subscribe(box.setState)
	defer unsubscribe()
	box.setState(ctrl.Snapshot())

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("read error", zap.Error(err))
			}
			logger.Info("connection closed")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if err := h.handleMessage(lease.Context(), ctrl, msg); err != nil {
			box.pushError(err.Error())
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, ctrl *chatservice.Controller, msg inboundMessage) error {
	switch msg.Type {
	case "submit":
		return ctrl.Submit(ctx, msg.Content)
	case "today":
		return ctrl.Submit(ctx, chat.DateQuestion(time.Now(), false))
	case "retry":
		return ctrl.Retry(ctx)
	default:
		return errors.New("unknown message type: " + msg.Type)
	}
}

// writeLoop 是连接上唯一的写入者，负责状态、错误和心跳
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, box *outbox, logger *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-box.wake:
			for _, msg := range box.drain() {
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					logger.Warn("write failed", zap.Error(err))
					return
				}
			}
		}
	}
}

// outbox 在控制器回调与写协程之间传递消息。状态只保留最新一份。
type outbox struct {
	mu     sync.Mutex
	errors []outgoingMessage
	state  *outgoingMessage
	wake   chan struct{}
}

func newOutbox() *outbox {
	return &outbox{wake: make(chan struct{}, 1)}
}

func (b *outbox) setState(snap chatservice.Snapshot) {
	b.mu.Lock()
	b.state = &outgoingMessage{Type: "state", Data: snap, Timestamp: time.Now().Unix()}
	b.mu.Unlock()
	b.signal()
}

func (b *outbox) pushError(message string) {
	b.mu.Lock()
	b.errors = append(b.errors, outgoingMessage{Type: "error", Data: errorPayload{Message: message}, Timestamp: time.Now().Unix()})
	b.mu.Unlock()
	b.signal()
}

func (b *outbox) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *outbox) drain() []outgoingMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.errors
	b.errors = nil
	if b.state != nil {
		out = append(out, *b.state)
		b.state = nil
	}
	return out
}
