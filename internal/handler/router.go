package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/onthisday/backend/internal/config"
	"github.com/zhouzirui/onthisday/backend/internal/handler/chat"
	"github.com/zhouzirui/onthisday/backend/internal/handler/live"
	"github.com/zhouzirui/onthisday/backend/internal/handler/session"
	"github.com/zhouzirui/onthisday/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/onthisday/backend/internal/middleware"
	"github.com/zhouzirui/onthisday/backend/internal/reveal"
	aiService "github.com/zhouzirui/onthisday/backend/internal/service/ai"
	chatService "github.com/zhouzirui/onthisday/backend/internal/service/chat"
	"github.com/zhouzirui/onthisday/backend/internal/store"
	"github.com/zhouzirui/onthisday/backend/pkg/utils"
)

// Dependencies are the services the HTTP layer is built on.
type Dependencies struct {
	Server  config.ServerConfig
	Session config.SessionConfig
	AI      aiService.Chatter
	Store   store.Store
	Logger  *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.Server.AllowedOrigins))

	limiter := middlewarePkg.NewRateLimiter(deps.Server.RateLimit, deps.Server.RateBurst, logger)

	opts := controllerOptions(deps.Session)
	opts.Logger = logger
	// One controller per session, shared by every live connection to it.
	registry := chatService.NewRegistry(deps.Store, aiService.NewLocalTransport(deps.AI), opts)

	chatHandler := chat.New(deps.AI, logger)
	streamHandler := stream.New(deps.AI, opts.Reveal, logger)
	sessionHandler := session.New(deps.Store, registry, logger)
	liveHandler := live.New(registry, logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		// Only the model proxy is rate limited.
		chatHandler.RegisterRoutes(api, limiter.Middleware)
		streamHandler.RegisterRoutes(api, limiter.Middleware)

		api.Route("/sessions", func(sessions chi.Router) {
			sessionHandler.RegisterRoutes(sessions)
			liveHandler.RegisterRoutes(sessions)
		})
	})

	return r
}

func controllerOptions(cfg config.SessionConfig) chatService.Options {
	return chatService.Options{
		Retry: chatService.RetryPolicy{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelay},
		Reveal: reveal.Config{
			Tick:   cfg.RevealTick,
			Chunk:  cfg.RevealChunk,
			Settle: cfg.RevealSettle,
		},
	}
}
