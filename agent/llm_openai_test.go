package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeOpenAIBase(t *testing.T) {
	testCases := []struct {
		base string
		want string
	}{
		{"http://localhost:11434", "http://localhost:11434/v1"},
		{"http://localhost:11434/", "http://localhost:11434/v1"},
		{"https://api.deepseek.com/v1", "https://api.deepseek.com/v1"},
		{"https://gw.example.com/v1/proxy", "https://gw.example.com/v1/proxy"},
	}
	for _, tc := range testCases {
		if got := normalizeOpenAIBase(tc.base); got != tc.want {
			t.Errorf("normalizeOpenAIBase(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestOpenAIAdapterRequiresKeyOfficially(t *testing.T) {
	adapter := NewOpenAIAdapter()
	_, err := adapter.Invoke(context.Background(), ModelConfig{Model: "gpt-4o"}, "q")
	pe, ok := err.(*ProviderError)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Status != http.StatusUnauthorized || pe.Retryable() {
		t.Errorf("a missing key must be a terminal 401, got %+v", pe)
	}
}

func TestOpenAICompatibleAdapterInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "SELECT 1"}},
			},
			"usage": map[string]int{"total_tokens": 21},
		})
	}))
	t.Cleanup(srv.Close)

	adapter := NewOpenAICompatibleAdapter()
	inv, err := adapter.Invoke(context.Background(), ModelConfig{
		BaseURL: srv.URL,
		Model:   "qwen2.5-coder",
	}, "q")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if inv.Text != "SELECT 1" {
		t.Errorf("unexpected text: %s", inv.Text)
	}
	if inv.TokensUsed != 21 {
		t.Errorf("unexpected tokens: %d", inv.TokensUsed)
	}
}
