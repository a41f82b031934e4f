package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"

	"github.com/zhouzirui/onthisday/backend/internal/config"
	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
)

// Service answers chat envelopes through the configured model.
type Service struct {
	chatModel model.BaseChatModel
	prompts   *PromptBuilder
	cfg       config.AIConfig
	logger    *zap.Logger
}

// NewService builds the provider selected by cfg.Provider. A missing
// credential does not fail construction; every Chat call reports it instead.
func NewService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var chatModel model.BaseChatModel
	switch cfg.Provider {
	case config.ProviderArk:
		if cfg.Ark.Enabled() {
			arkModel, err := cfg.NewArkChatModel(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to create chat model: %w", err)
			}
			chatModel = arkModel
		}
	default:
		chatModel = NewGeminiModel(GeminiConfig{
			APIKey:          cfg.APIKey,
			Model:           cfg.Model,
			BaseURL:         cfg.BaseURL,
			FallbackURL:     cfg.FallbackURL,
			Temperature:     cfg.Temperature,
			TopK:            cfg.TopK,
			TopP:            cfg.TopP,
			MaxOutputTokens: cfg.MaxOutputTokens,
		}, logger)
	}

	return NewServiceWithModel(chatModel, cfg, logger), nil
}

// NewServiceWithModel wires an existing chat model.
func NewServiceWithModel(chatModel model.BaseChatModel, cfg config.AIConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Service{
		chatModel: chatModel,
		prompts:   NewPromptBuilder(cfg.PromptMode),
		cfg:       cfg,
		logger:    logger.Named("ai"),
	}
}

// Enabled reports whether requests can be served.
func (s *Service) Enabled() bool {
	return s != nil && s.chatModel != nil && s.cfg.Enabled()
}

// Ready reports the missing credential of the selected provider, if any.
func (s *Service) Ready() error {
	if s.Enabled() {
		return nil
	}
	if s != nil && s.cfg.Provider == config.ProviderArk {
		return &CredentialError{Variables: arkCredentialVariables}
	}
	return &CredentialError{Variables: geminiCredentialVariables}
}

// Chat returns the reply text for env. Network failures degrade to an
// offline reply; timeouts, provider errors and configuration problems are
// returned as errors (see Describe).
func (s *Service) Chat(ctx context.Context, env chat.Envelope) (string, error) {
	if err := s.Ready(); err != nil {
		s.logger.Error("missing api credential", zap.Error(err))
		return "", err
	}

	if err := env.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	input, err := s.prompts.Build(ctx, env)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	started := time.Now()
	response, err := s.chatModel.Generate(ctx, input)
	if err != nil {
		return s.handleFailure(ctx, env, err)
	}

	text := cleanReply(response.Content)
	s.logger.Info("generated reply",
		zap.Int("turns", len(env.Messages)),
		zap.Int("length", len(text)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return text, nil
}

func (s *Service) handleFailure(ctx context.Context, env chat.Envelope, err error) (string, error) {
	var upstream *UpstreamError
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		s.logger.Info("request abandoned by caller")
		return "", context.Canceled
	case errors.Is(err, ErrTimeout):
		s.logger.Warn("upstream timed out", zap.Duration("timeout", s.cfg.Timeout))
		return "", err
	case errors.Is(err, ErrUnreachable):
		s.logger.Warn("upstream unreachable, serving offline reply", zap.Error(err))
		return OfflineReply(env.LastContent()), nil
	case errors.As(err, &upstream):
		return "", err
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "", fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		// Providers other than Gemini report failures in their own shapes.
		s.logger.Error("model generate failed", zap.Error(err))
		return "", &UpstreamError{Status: http.StatusBadGateway, Message: "Upstream model error", Details: err.Error()}
	}
}
