package reasoning

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/copilot/pkg/schema"
	"github.com/sashabaranov/go-openai"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAI creates a chat client. An empty baseURL keeps the public API.
func NewOpenAI(apiKey, baseURL, model string, temperature float64) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: float32(temperature),
	}
}

// Name returns the backend identifier.
func (o *OpenAI) Name() string {
	return "openai/" + o.model
}

// Generate sends the prompt as a system and a user message.
func (o *OpenAI) Generate(ctx context.Context, p Prompt) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", schema.NewErrorf(schema.ErrCodeReasoning, "openai returned no choices for %s", p.Task)
	}
	return resp.Choices[0].Message.Content, nil
}

var _ LM = (*OpenAI)(nil)
