package reasoning

import (
	"context"
	"fmt"

	"github.com/rendis/copilot/pkg/schema"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Ollama runs prompts against a local Ollama server through langchaingo.
type Ollama struct {
	llm         *ollama.LLM
	model       string
	temperature float64
}

// NewOllama creates a client for the given model and server URL.
func NewOllama(serverURL, model string, temperature float64) (*Ollama, error) {
	llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(serverURL))
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &Ollama{llm: llm, model: model, temperature: temperature}, nil
}

// Name returns the backend identifier.
func (o *Ollama) Name() string {
	return "ollama/" + o.model
}

// Generate sends the prompt as a system and a human message.
func (o *Ollama) Generate(ctx context.Context, p Prompt) (string, error) {
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, p.System),
		llms.TextParts(llms.ChatMessageTypeHuman, p.User),
	}
	resp, err := o.llm.GenerateContent(ctx, msgs, llms.WithTemperature(o.temperature))
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", schema.NewErrorf(schema.ErrCodeReasoning, "ollama returned no choices for %s", p.Task)
	}
	return resp.Choices[0].Content, nil
}

var _ LM = (*Ollama)(nil)
