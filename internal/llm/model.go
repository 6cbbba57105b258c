// Package llm wraps langchaingo models for relationship classification.
package llm

import (
	"context"
	"fmt"

	"github.com/clinrel/clinrel-go/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Usage reports token consumption of a single generation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Model wraps a langchaingo LLM for deterministic text generation.
type Model struct {
	llm       llms.Model
	modelName string
}

// NewModel creates an LLM model based on configuration.
func NewModel(cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:       model,
		modelName: cfg.LLMModel,
	}, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// GenerateWithSystem generates text with a system prompt at temperature zero,
// returning the response content and token usage when the provider reports it.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := m.llm.GenerateContent(ctx, messages, llms.WithTemperature(0))
	if err != nil {
		return "", Usage{}, fmt.Errorf("generate with system: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no response choices")
	}

	choice := response.Choices[0]
	return choice.Content, usageFromInfo(choice.GenerationInfo), nil
}

// usageFromInfo extracts token counts from provider-specific generation info.
// Providers that report nothing yield zero usage.
func usageFromInfo(info map[string]any) Usage {
	var u Usage
	u.PromptTokens = intFromInfo(info, "PromptTokens", "InputTokens", "prompt_tokens")
	u.CompletionTokens = intFromInfo(info, "CompletionTokens", "OutputTokens", "completion_tokens")
	return u
}

func intFromInfo(info map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
