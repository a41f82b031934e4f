// Package client talks to the chat endpoint over HTTP on behalf of a
// session controller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
)

// ChatPath is the route of the chat endpoint relative to the server root.
const ChatPath = "/api/gemini/chat"

const unexpectedFormat = "Received an unexpected response format"

// Client posts envelopes to a running API server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a client for the server at baseURL, e.g. "http://localhost:8080".
// The per-attempt deadline belongs to the caller's context; timeout only
// guards against a server that never answers.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("client"),
	}
}

// Chat sends env and returns the reply text. A failure to reach the server
// is returned as *chat.TransportError; an error answer as *chat.ErrorResponse.
func (c *Client) Chat(ctx context.Context, env chat.Envelope) (string, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ChatPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &chat.TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &chat.TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", decodeError(resp.StatusCode, raw)
	}

	var reply chat.Reply
	if err := json.Unmarshal(raw, &reply); err != nil || reply.Text == "" {
		c.logger.Warn("unexpected reply body", zap.Int("status", resp.StatusCode), zap.Int("bytes", len(raw)))
		return "", &chat.ErrorResponse{Status: resp.StatusCode, Message: unexpectedFormat}
	}
	return reply.Text, nil
}

func decodeError(status int, raw []byte) *chat.ErrorResponse {
	var body chat.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		body.Status = status
		return &body
	}
	return &chat.ErrorResponse{Status: status, Message: fmt.Sprintf("API returned %d", status)}
}
