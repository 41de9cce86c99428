package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// openAIAdapter speaks the OpenAI chat-completions protocol. It serves two
// provider keys: "openai" against the official endpoint and
// "openai-compatible" against a user-supplied base URL (Ollama, vLLM,
// DeepSeek and friends).
type openAIAdapter struct {
	name string
}

// NewOpenAIAdapter builds the adapter for the official endpoint.
func NewOpenAIAdapter() Adapter { return &openAIAdapter{name: "openai"} }

// NewOpenAICompatibleAdapter builds the adapter for OpenAI-protocol servers
// behind a custom base URL.
func NewOpenAICompatibleAdapter() Adapter { return &openAIAdapter{name: "openai-compatible"} }

func (a *openAIAdapter) Name() string { return a.name }

func (a *openAIAdapter) Invoke(ctx context.Context, mc ModelConfig, prompt string) (*Invocation, error) {
	if mc.APIKey == "" && a.name == "openai" {
		return nil, &ProviderError{Provider: a.name, Status: 401, Body: "API key is not configured"}
	}

	cfg := openai.DefaultConfig(mc.APIKey)
	if mc.BaseURL != "" {
		cfg.BaseURL = normalizeOpenAIBase(mc.BaseURL)
	}
	client := openai.NewClientWithConfig(cfg)

	req := openai.ChatCompletionRequest{
		Model: mc.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if mc.MaxTokens > 0 {
		req.MaxTokens = mc.MaxTokens
	}
	if mc.Temperature > 0 {
		req.Temperature = float32(mc.Temperature)
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &ProviderError{Provider: a.name, Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in %s response", a.name)
	}

	return &Invocation{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// normalizeOpenAIBase maps a bare host URL onto the /v1 prefix the client
// library expects; URLs that already carry a path are respected.
func normalizeOpenAIBase(base string) string {
	trimmed := strings.TrimRight(base, "/")
	if strings.HasSuffix(trimmed, "/v1") || strings.Contains(trimmed, "/v1/") {
		return trimmed
	}
	return trimmed + "/v1"
}
