package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/onthisday/backend/internal/config"
	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
	"github.com/zhouzirui/onthisday/backend/internal/store"
)

type echoChatter struct{}

func (echoChatter) Chat(_ context.Context, env chat.Envelope) (string, error) {
	return "echo: " + env.LastContent(), nil
}

func newTestRouter(t *testing.T, burst int) http.Handler {
	return NewRouter(Dependencies{
		Server: config.ServerConfig{
			AllowedOrigins: []string{"https://history.example"},
			RateLimit:      0.001,
			RateBurst:      burst,
		},
		Session: config.SessionConfig{
			RetryAttempts: 3,
			RetryDelay:    time.Millisecond,
			RevealTick:    time.Millisecond,
			RevealChunk:   3,
			RevealSettle:  time.Millisecond,
		},
		AI:     echoChatter{},
		Store:  store.NewMemoryStore(),
		Logger: zaptest.NewLogger(t),
	})
}

func request(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("Origin", "https://history.example")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestHealthz(t *testing.T) {
	resp := request(newTestRouter(t, 1), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
	assert.Equal(t, "https://history.example", resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestChatRouteIsRateLimited(t *testing.T) {
	r := newTestRouter(t, 2)
	body := `{"messages":[{"role":"user","content":"What happened on May 8 in history?"}]}`

	for i := 0; i < 2; i++ {
		resp := request(r, http.MethodPost, "/api/gemini/chat", body)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"text":"echo: What happened on May 8 in history?"}`, resp.Body.String())
	}

	resp := request(r, http.MethodPost, "/api/gemini/chat", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)

	// Session routes do not share the chat bucket.
	resp = request(r, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestSessionRoutesMounted(t *testing.T) {
	r := newTestRouter(t, 1)

	resp := request(r, http.MethodPost, "/api/sessions", "")
	assert.Equal(t, http.StatusCreated, resp.Code)

	resp = request(r, http.MethodGet, "/api/sessions/unknown/live", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestStreamRouteMounted(t *testing.T) {
	r := newTestRouter(t, 1)
	body := `{"messages":[{"role":"user","content":"hi"}]}`

	resp := request(r, http.MethodPost, "/api/gemini/chat/stream", body)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"event":"end"`)
}
