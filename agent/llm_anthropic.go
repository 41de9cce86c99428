package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const anthropicVersion = "2023-06-01"

// anthropicAdapter speaks the Anthropic messages protocol. It serves two
// provider keys: "anthropic" with the native x-api-key header, and
// "claude-compatible" for gateways that front the same protocol behind a
// Bearer token.
type anthropicAdapter struct {
	name       string
	bearerAuth bool
	client     *http.Client
}

// NewAnthropicAdapter builds the adapter for the official endpoint.
func NewAnthropicAdapter() Adapter {
	return &anthropicAdapter{name: "anthropic", client: &http.Client{}}
}

// NewClaudeCompatibleAdapter builds the adapter for Anthropic-protocol
// gateways that authenticate with Authorization: Bearer.
func NewClaudeCompatibleAdapter() Adapter {
	return &anthropicAdapter{name: "claude-compatible", bearerAuth: true, client: &http.Client{}}
}

func (a *anthropicAdapter) Name() string { return a.name }

func (a *anthropicAdapter) Invoke(ctx context.Context, mc ModelConfig, prompt string) (*Invocation, error) {
	endpoint, err := anthropicURL(mc.BaseURL)
	if err != nil {
		return nil, err
	}

	maxTokens := mc.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body := map[string]any{
		"model":      mc.Model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if mc.Temperature > 0 {
		body["temperature"] = mc.Temperature
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if a.bearerAuth {
		if mc.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+mc.APIKey)
		}
	} else {
		req.Header.Set("x-api-key", mc.APIKey)
	}
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{Provider: a.name, Status: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Content) == 0 {
		return nil, fmt.Errorf("no content in %s response", a.name)
	}

	return &Invocation{
		Text:       result.Content[0].Text,
		TokensUsed: result.Usage.InputTokens + result.Usage.OutputTokens,
	}, nil
}

// anthropicURL resolves the messages endpoint. A bare base URL (or one
// ending at /v1) gets the standard path appended; anything deeper is taken
// as the full endpoint.
func anthropicURL(base string) (string, error) {
	if base == "" {
		return "https://api.anthropic.com/v1/messages", nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	path := u.Path
	if path == "" || path == "/" || path == "/v1" || path == "/v1/" {
		if !strings.HasSuffix(path, "/") {
			path += "/"
		}
		if !strings.HasPrefix(strings.TrimPrefix(path, "/"), "v1") {
			path += "v1/"
		}
		path += "messages"
	}
	u.Path = path
	return u.String(), nil
}
