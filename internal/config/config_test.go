package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("PROMPT_MODE", "")
	t.Setenv("GEMINI_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ProviderGemini, cfg.AI.Provider)
	assert.Equal(t, PromptHistory, cfg.AI.PromptMode)
	assert.Equal(t, 15*time.Second, cfg.AI.Timeout)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta", cfg.AI.BaseURL)
	assert.Equal(t, "https://generativelanguage.googleapis.com", cfg.AI.FallbackURL)
	assert.False(t, cfg.AI.Enabled(), "no key configured")
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Session.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Session.RetryDelay)
	assert.Equal(t, 5*time.Millisecond, cfg.Session.RevealTick)
	assert.Equal(t, 3, cfg.Session.RevealChunk)
	assert.Equal(t, 100*time.Millisecond, cfg.Session.RevealSettle)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("GEMINI_API_BASE_URL", "http://primary.local/v1beta/")
	t.Setenv("GEMINI_TIMEOUT", "3")
	t.Setenv("GEMINI_TEMPERATURE", "0.2")
	t.Setenv("PROMPT_MODE", "transcript")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("STORE_DSN", "/tmp/history.db")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.AI.Enabled())
	assert.Equal(t, "http://primary.local/v1beta", cfg.AI.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.AI.Timeout)
	assert.InDelta(t, 0.2, cfg.AI.Temperature, 1e-6)
	assert.Equal(t, PromptTranscript, cfg.AI.PromptMode)
	assert.Equal(t, StoreConfig{Driver: "sqlite", DSN: "/tmp/history.db"}, cfg.Store)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":           "80 80",
		"AI_PROVIDER":    "openai",
		"PROMPT_MODE":    "poem",
		"GEMINI_TIMEOUT": "soon",
		"GEMINI_TOP_K":   "many",
		"STORE_DRIVER":   "redis",
		"RETRY_ATTEMPTS": "0",
		"REVEAL_CHUNK":   "-1",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestStoreDriverRequiresDSN(t *testing.T) {
	t.Setenv("STORE_DRIVER", "file")
	t.Setenv("STORE_DSN", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestArkProviderEnabled(t *testing.T) {
	cfg := AIConfig{Provider: ProviderArk, Ark: ArkConfig{Model: "ep-1", AccessKey: "ak", SecretKey: "sk"}}
	assert.True(t, cfg.Enabled())

	cfg.Ark.SecretKey = ""
	assert.False(t, cfg.Enabled())
}
