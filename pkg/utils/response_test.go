package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusBadRequest, "bad input")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"bad input"}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var payload struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"june"}`))
	require.NoError(t, DecodeJSON(req, &payload))
	assert.Equal(t, "june", payload.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.ErrorIs(t, DecodeJSON(req, &payload), ErrEmptyBody)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{oops"))
	err := DecodeJSON(req, &payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid request body")
}

func TestSendSSEChunk(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)
	require.NoError(t, SendSSEChunk(rec, rec, map[string]string{"event": "end"}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "data: {\"event\":\"end\"}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}
