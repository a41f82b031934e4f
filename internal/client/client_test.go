package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
)

var envelope = chat.Envelope{Messages: []chat.Turn{{Role: chat.RoleUser, Content: "What happened on July 20 in history?"}}}

func TestChatSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ChatPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got chat.Envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, envelope, got)

		_, _ = w.Write([]byte(`{"text":"1969: Apollo 11 lands on the Moon."}`))
	}))
	defer srv.Close()

	text, err := New(srv.URL+"/", time.Second, nil).Chat(context.Background(), envelope)
	require.NoError(t, err)
	assert.Equal(t, "1969: Apollo 11 lands on the Moon.", text)
}

func TestChatErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = w.Write([]byte(`{"error":"The request to the Gemini API timed out. Please try again later."}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second, nil).Chat(context.Background(), envelope)

	var resp *chat.ErrorResponse
	require.ErrorAs(t, err, &resp)
	assert.Equal(t, http.StatusGatewayTimeout, resp.Status)
	assert.Equal(t, "The request to the Gemini API timed out. Please try again later.", resp.Message)
	assert.False(t, chat.IsTransient(err))
}

func TestChatNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second, nil).Chat(context.Background(), envelope)

	var resp *chat.ErrorResponse
	require.ErrorAs(t, err, &resp)
	assert.Equal(t, "API returned 502", resp.Message)
}

func TestChatUnexpectedFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"wrong field"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second, nil).Chat(context.Background(), envelope)

	var resp *chat.ErrorResponse
	require.ErrorAs(t, err, &resp)
	assert.Equal(t, unexpectedFormat, resp.Message)
}

func TestChatUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second, nil).Chat(context.Background(), envelope)
	require.Error(t, err)
	assert.True(t, chat.IsTransient(err))
}
