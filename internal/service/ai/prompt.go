package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/onthisday/backend/internal/config"
	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
)

const historyTemplate = `
You are a history expert AI assistant. A user is asking about historical events that happened on a specific date.

Query: "{query}"

Respond with 3-5 significant historical events that occurred on this date throughout history. For each event:
1. Include the year
2. Provide a brief, engaging description of the event
3. Focus on diverse events from different time periods and categories (politics, science, arts, etc.)
4. Present the information in a clear, engaging format
5. Add interesting details that make the history come alive

Make your response engaging, educational, and well-formatted.
`

// PromptBuilder turns an envelope into the single user prompt sent upstream.
type PromptBuilder struct {
	mode       config.PromptMode
	history    prompt.ChatTemplate
	transcript prompt.ChatTemplate
}

// NewPromptBuilder creates a builder for the given mode.
func NewPromptBuilder(mode config.PromptMode) *PromptBuilder {
	return &PromptBuilder{
		mode:       mode,
		history:    prompt.FromMessages(schema.FString, schema.UserMessage(historyTemplate)),
		transcript: prompt.FromMessages(schema.FString, schema.UserMessage("{transcript}")),
	}
}

// Build renders the prompt. In history mode only the last turn is quoted into
// the fixed instruction; in transcript mode every turn is replayed as
// Human/Assistant lines ending with an open "Assistant:" cue.
func (b *PromptBuilder) Build(ctx context.Context, env chat.Envelope) ([]*schema.Message, error) {
	var (
		messages []*schema.Message
		err      error
	)

	switch b.mode {
	case config.PromptTranscript:
		messages, err = b.transcript.Format(ctx, map[string]any{"transcript": Transcript(env)})
	default:
		messages, err = b.history.Format(ctx, map[string]any{"query": env.LastContent()})
	}
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}
	return messages, nil
}

// Transcript renders the envelope as a Human/Assistant dialogue.
func Transcript(env chat.Envelope) string {
	var builder strings.Builder
	for _, turn := range env.Messages {
		switch turn.Role {
		case chat.RoleAssistant:
			builder.WriteString("Assistant: ")
		default:
			builder.WriteString("Human: ")
		}
		builder.WriteString(turn.Content)
		builder.WriteString("\n\n")
	}
	builder.WriteString("Assistant:")
	return builder.String()
}
