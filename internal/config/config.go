package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Store   StoreConfig
	Log     LogConfig
	Session SessionConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Store: store, Log: loadLogConfig(), Session: session}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	addr := port
	if !strings.Contains(port, ":") {
		addr = ":" + port
	}

	rateLimit := 2.0
	if override, err := parseOptionalFloatEnv("CHAT_RATE_LIMIT"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		rateLimit = *override
	}

	rateBurst := 5
	if override, err := parseOptionalIntEnv("CHAT_RATE_BURST"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		rateBurst = *override
	}

	return ServerConfig{
		Addr:           addr,
		AllowedOrigins: splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "https://*,http://*")),
		RateLimit:      rateLimit,
		RateBurst:      rateBurst,
	}, nil
}

// Provider names the upstream model backend.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderArk    Provider = "ark"
)

// PromptMode selects how an envelope is turned into a prompt.
type PromptMode string

const (
	PromptHistory    PromptMode = "history"
	PromptTranscript PromptMode = "transcript"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider        Provider
	PromptMode      PromptMode
	APIKey          string
	Model           string
	BaseURL         string
	FallbackURL     string
	Timeout         time.Duration
	Temperature     float32
	TopK            int
	TopP            float32
	MaxOutputTokens int
	Ark             ArkConfig
}

// ArkConfig keeps the Volcengine Ark credentials for the alternative provider.
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Provider == ProviderArk {
		return c.Ark.Enabled()
	}
	return c.APIKey != "" && c.Model != ""
}

// Enabled reports whether Ark credentials and a model are present.
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewArkChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewArkChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Ark.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	temperature := c.Temperature
	topP := c.TopP
	maxTokens := c.MaxOutputTokens

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.Ark.BaseURL,
		Region:      c.Ark.Region,
		APIKey:      c.Ark.APIKey,
		AccessKey:   c.Ark.AccessKey,
		SecretKey:   c.Ark.SecretKey,
		Model:       c.Ark.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		TopP:        &topP,
	}

	chatModel, err := ark.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}
	return chatModel, nil
}

func loadAIConfig() (AIConfig, error) {
	provider := Provider(strings.ToLower(getEnvOrDefault("AI_PROVIDER", string(ProviderGemini))))
	if provider != ProviderGemini && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	mode := PromptMode(strings.ToLower(getEnvOrDefault("PROMPT_MODE", string(PromptHistory))))
	if mode != PromptHistory && mode != PromptTranscript {
		return AIConfig{}, fmt.Errorf("invalid PROMPT_MODE value %q", mode)
	}

	timeout, err := parseDurationEnv("GEMINI_TIMEOUT", 15*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	cfg := AIConfig{
		Provider:        provider,
		PromptMode:      mode,
		APIKey:          strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:           getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		BaseURL:         strings.TrimRight(getEnvOrDefault("GEMINI_API_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"), "/"),
		FallbackURL:     strings.TrimRight(getEnvOrDefault("GEMINI_FALLBACK_URL", "https://generativelanguage.googleapis.com"), "/"),
		Timeout:         timeout,
		Temperature:     0.7,
		TopK:            40,
		TopP:            0.95,
		MaxOutputTokens: 4096,
		Ark: ArkConfig{
			APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			Model:     strings.TrimSpace(os.Getenv("ARK_MODEL")),
			BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
		},
	}

	if v, err := parseOptionalFloat32Env("GEMINI_TEMPERATURE"); err != nil {
		return AIConfig{}, err
	} else if v != nil {
		cfg.Temperature = *v
	}

	if v, err := parseOptionalFloat32Env("GEMINI_TOP_P"); err != nil {
		return AIConfig{}, err
	} else if v != nil {
		cfg.TopP = *v
	}

	if v, err := parseOptionalIntEnv("GEMINI_TOP_K"); err != nil {
		return AIConfig{}, err
	} else if v != nil {
		cfg.TopK = *v
	}

	if v, err := parseOptionalIntEnv("GEMINI_MAX_OUTPUT_TOKENS"); err != nil {
		return AIConfig{}, err
	} else if v != nil {
		cfg.MaxOutputTokens = *v
	}

	return cfg, nil
}

// StoreConfig selects the conversation store backend.
type StoreConfig struct {
	Driver string
	DSN    string
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", "memory"))
	dsn := strings.TrimSpace(os.Getenv("STORE_DSN"))

	switch driver {
	case "memory":
	case "file", "sqlite", "postgres":
		if dsn == "" {
			return StoreConfig{}, fmt.Errorf("STORE_DSN is required for STORE_DRIVER=%s", driver)
		}
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value %q", driver)
	}

	return StoreConfig{Driver: driver, DSN: dsn}, nil
}

// LogConfig 描述日志输出配置。
type LogConfig struct {
	Level  string
	Format string
	File   string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
		File:   strings.TrimSpace(os.Getenv("LOG_FILE")),
	}
}

// SessionConfig tunes the session controller: endpoint location, retry
// policy and reveal pacing.
type SessionConfig struct {
	APIURL        string
	RetryAttempts int
	RetryDelay    time.Duration
	RevealTick    time.Duration
	RevealChunk   int
	RevealSettle  time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	cfg := SessionConfig{
		APIURL:        strings.TrimRight(getEnvOrDefault("CHAT_API_URL", "http://localhost:8080"), "/"),
		RetryAttempts: 3,
		RevealChunk:   3,
	}

	var err error
	if cfg.RetryDelay, err = parseDurationEnv("RETRY_DELAY", time.Second); err != nil {
		return SessionConfig{}, err
	}
	if cfg.RevealTick, err = parseDurationEnv("REVEAL_TICK", 5*time.Millisecond); err != nil {
		return SessionConfig{}, err
	}
	if cfg.RevealSettle, err = parseDurationEnv("REVEAL_SETTLE", 100*time.Millisecond); err != nil {
		return SessionConfig{}, err
	}

	if v, err := parseOptionalIntEnv("RETRY_ATTEMPTS"); err != nil {
		return SessionConfig{}, err
	} else if v != nil {
		if *v < 1 {
			return SessionConfig{}, fmt.Errorf("invalid RETRY_ATTEMPTS value %d: must be at least 1", *v)
		}
		cfg.RetryAttempts = *v
	}

	if v, err := parseOptionalIntEnv("REVEAL_CHUNK"); err != nil {
		return SessionConfig{}, err
	} else if v != nil {
		if *v < 1 {
			return SessionConfig{}, fmt.Errorf("invalid REVEAL_CHUNK value %d: must be at least 1", *v)
		}
		cfg.RevealChunk = *v
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseDurationEnv accepts Go durations ("15s") or a bare number of seconds.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
		}
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
