package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/onthisday/backend/internal/config"
	"github.com/zhouzirui/onthisday/backend/internal/handler"
	"github.com/zhouzirui/onthisday/backend/internal/logging"
	"github.com/zhouzirui/onthisday/backend/internal/service/ai"
	"github.com/zhouzirui/onthisday/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, using system environment variables only", zap.Error(envErr))
	}

	sessions, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("failed to open session store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer sessions.Close()
	logger.Info("session store ready", zap.String("driver", cfg.Store.Driver))

	aiService, err := ai.NewService(ctx, cfg.AI, logger)
	if err != nil {
		logger.Fatal("failed to initialize AI service", zap.Error(err))
	}
	if aiService.Enabled() {
		logger.Info("AI service initialized",
			zap.String("provider", string(cfg.AI.Provider)),
			zap.String("prompt_mode", string(cfg.AI.PromptMode)),
		)
	} else {
		logger.Warn("AI credential not configured, chat requests will fail until it is set")
	}

	router := handler.NewRouter(handler.Dependencies{
		Server:  cfg.Server,
		Session: cfg.Session,
		AI:      aiService,
		Store:   sessions,
		Logger:  logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("On This Day backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
