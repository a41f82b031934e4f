package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const maxErrorBody = 64 << 10

// GeminiConfig configures the Gemini REST client.
type GeminiConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	FallbackURL string

	Temperature     float32
	TopK            int
	TopP            float32
	MaxOutputTokens int

	HTTPClient *http.Client
}

// GeminiModel calls the generateContent REST method. A non-2xx answer (or a
// network failure) from the primary endpoint is retried once against the
// fallback endpoint with the identical body.
type GeminiModel struct {
	cfg    GeminiConfig
	client *http.Client
	logger *zap.Logger
}

var _ model.BaseChatModel = (*GeminiModel)(nil)

// NewGeminiModel creates a Gemini chat model.
func NewGeminiModel(cfg GeminiConfig, logger *zap.Logger) *GeminiModel {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.FallbackURL = strings.TrimRight(cfg.FallbackURL, "/")
	return &GeminiModel{cfg: cfg, client: client, logger: logger.Named("gemini")}
}

// PrimaryURL is {base}/models/{model}:generateContent.
func (m *GeminiModel) PrimaryURL() string {
	return fmt.Sprintf("%s/models/%s:generateContent", m.cfg.BaseURL, m.cfg.Model)
}

// FallbackURL is {fallback}/v1beta/models/{model}:generateContent, or "" when
// no fallback base is configured.
func (m *GeminiModel) FallbackURL() string {
	if m.cfg.FallbackURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", m.cfg.FallbackURL, m.cfg.Model)
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type generationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type generateRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type geminiOptions struct {
	TopK *int
}

// WithTopK overrides topK for a single call.
func WithTopK(k int) model.Option {
	return model.WrapImplSpecificOptFn(func(o *geminiOptions) {
		o.TopK = &k
	})
}

// Generate sends the conversation and returns the first candidate's text.
// An undecodable success body yields an empty message rather than an error.
func (m *GeminiModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	body, err := json.Marshal(m.buildRequest(input, opts...))
	if err != nil {
		return nil, fmt.Errorf("encode gemini request: %w", err)
	}

	m.logger.Debug("trying primary endpoint", zap.String("url", m.PrimaryURL()))
	resp, err := m.post(ctx, m.PrimaryURL(), body)
	if err != nil && abandoned(ctx) {
		return nil, ctx.Err()
	}
	if err != nil && isDeadline(ctx, err) {
		return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var primaryFailure error
	switch {
	case err != nil:
		primaryFailure = fmt.Errorf("%w: %w", ErrUnreachable, err)
	case !isSuccess(resp.StatusCode):
		primaryFailure = readUpstreamError(resp)
	}

	if primaryFailure != nil {
		fallback := m.FallbackURL()
		if fallback == "" {
			return nil, primaryFailure
		}

		m.logger.Warn("primary endpoint failed, trying fallback", zap.Error(primaryFailure), zap.String("url", fallback))
		resp, err = m.post(ctx, fallback, body)
		if err != nil {
			if abandoned(ctx) {
				return nil, ctx.Err()
			}
			if isDeadline(ctx, err) {
				return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
			}
			// A primary HTTP error says more than a fallback network error.
			var upstream *UpstreamError
			if errors.As(primaryFailure, &upstream) {
				return nil, primaryFailure
			}
			return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
		}
		if !isSuccess(resp.StatusCode) {
			upstreamErr := readUpstreamError(resp)
			m.logger.Error("gemini api error", zap.Int("status", upstreamErr.Status), zap.Any("details", upstreamErr.Details))
			return nil, upstreamErr
		}
	}
	defer resp.Body.Close()

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		if abandoned(ctx) {
			return nil, ctx.Err()
		}
		if isDeadline(ctx, err) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		m.logger.Warn("unexpected gemini response format", zap.Error(err))
		return schema.AssistantMessage("", nil), nil
	}

	return toMessage(decoded), nil
}

// Stream satisfies model.BaseChatModel; the reply is delivered as one chunk.
func (m *GeminiModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *GeminiModel) buildRequest(input []*schema.Message, opts ...model.Option) generateRequest {
	temperature := m.cfg.Temperature
	topP := m.cfg.TopP
	maxTokens := m.cfg.MaxOutputTokens
	common := model.GetCommonOptions(&model.Options{
		Temperature: &temperature,
		TopP:        &topP,
		MaxTokens:   &maxTokens,
	}, opts...)

	topK := m.cfg.TopK
	specific := model.GetImplSpecificOptions(&geminiOptions{TopK: &topK}, opts...)

	req := generateRequest{
		Contents: make([]geminiContent, 0, len(input)),
		GenerationConfig: generationConfig{
			Temperature:     common.Temperature,
			TopK:            specific.TopK,
			TopP:            common.TopP,
			MaxOutputTokens: common.MaxTokens,
			StopSequences:   common.Stop,
		},
	}

	var system []geminiPart
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, geminiPart{Text: msg.Content})
		case schema.Assistant:
			req.Contents = append(req.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: msg.Content}}})
		default:
			req.Contents = append(req.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Content}}})
		}
	}
	if len(system) > 0 {
		req.SystemInstruction = &geminiContent{Parts: system}
	}
	return req
}

func (m *GeminiModel) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", m.cfg.APIKey)
	return m.client.Do(req)
}

func readUpstreamError(resp *http.Response) *UpstreamError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return newUpstreamError(resp.StatusCode, body)
}

func toMessage(resp generateResponse) *schema.Message {
	msg := schema.AssistantMessage("", nil)
	if len(resp.Candidates) == 0 {
		return msg
	}

	candidate := resp.Candidates[0]
	if len(candidate.Content.Parts) > 0 {
		msg.Content = candidate.Content.Parts[0].Text
	}

	msg.ResponseMeta = &schema.ResponseMeta{FinishReason: candidate.FinishReason}
	if usage := resp.UsageMetadata; usage != nil {
		msg.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     usage.PromptTokenCount,
			CompletionTokens: usage.CandidatesTokenCount,
			TotalTokens:      usage.TotalTokenCount,
		}
	}
	return msg
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func isDeadline(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// abandoned reports whether the caller cancelled the request. Nobody is
// waiting for an answer then, so neither the fallback nor the offline reply
// applies.
func abandoned(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}
