package agent

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// scriptedAdapter replays a fixed sequence of outcomes.
type scriptedAdapter struct {
	name  string
	calls int
	steps []func() (*Invocation, error)
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) Invoke(ctx context.Context, mc ModelConfig, prompt string) (*Invocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	step := a.steps[a.calls]
	a.calls++
	return step()
}

func ok(text string) func() (*Invocation, error) {
	return func() (*Invocation, error) {
		return &Invocation{Text: text, TokensUsed: 7}, nil
	}
}

func httpErr(status int) func() (*Invocation, error) {
	return func() (*Invocation, error) {
		return nil, &ProviderError{Provider: "scripted", Status: status, Body: "boom"}
	}
}

func TestRouterRetriesTransientFailures(t *testing.T) {
	adapter := &scriptedAdapter{
		name:  "scripted-retry",
		steps: []func() (*Invocation, error){httpErr(503), httpErr(429), ok("answer")},
	}
	RegisterAdapter(adapter)

	r := NewRouter(RouterOptions{MaxRetries: 3, BackoffBase: time.Millisecond, BackoffCap: time.Millisecond})
	inv, err := r.Invoke(context.Background(), ModelConfig{Provider: "scripted-retry"}, "q")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if inv.Text != "answer" {
		t.Errorf("unexpected reply: %s", inv.Text)
	}
	if adapter.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", adapter.calls)
	}
	if inv.TokensUsed != 7 {
		t.Errorf("unexpected token count: %d", inv.TokensUsed)
	}
}

func TestRouterFailsFastOnRejection(t *testing.T) {
	adapter := &scriptedAdapter{
		name:  "scripted-reject",
		steps: []func() (*Invocation, error){httpErr(401)},
	}
	RegisterAdapter(adapter)

	r := NewRouter(RouterOptions{MaxRetries: 3, BackoffBase: time.Millisecond})
	_, err := r.Invoke(context.Background(), ModelConfig{Provider: "scripted-reject"}, "q")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := KindOf(err); got != KindModelRejected {
		t.Errorf("expected KindModelRejected, got %s", got)
	}
	if adapter.calls != 1 {
		t.Errorf("a 4xx must not retry, got %d attempts", adapter.calls)
	}
}

func TestRouterExhaustsRetries(t *testing.T) {
	adapter := &scriptedAdapter{
		name:  "scripted-down",
		steps: []func() (*Invocation, error){httpErr(500), httpErr(500), httpErr(500)},
	}
	RegisterAdapter(adapter)

	r := NewRouter(RouterOptions{MaxRetries: 2, BackoffBase: time.Millisecond, BackoffCap: time.Millisecond})
	_, err := r.Invoke(context.Background(), ModelConfig{Provider: "scripted-down"}, "q")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := KindOf(err); got != KindModelUnavailable {
		t.Errorf("expected KindModelUnavailable, got %s", got)
	}
	if adapter.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", adapter.calls)
	}
}

func TestRouterUnknownProvider(t *testing.T) {
	r := NewRouter(RouterOptions{})
	_, err := r.Invoke(context.Background(), ModelConfig{Provider: "no-such-provider"}, "q")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := KindOf(err); got != KindModelUnsupported {
		t.Errorf("expected KindModelUnsupported, got %s", got)
	}
}

func TestRouterCancellation(t *testing.T) {
	adapter := &scriptedAdapter{
		name: "scripted-slow",
		steps: []func() (*Invocation, error){
			func() (*Invocation, error) { return nil, fmt.Errorf("transport reset") },
		},
	}
	RegisterAdapter(adapter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRouter(RouterOptions{MaxRetries: 2, BackoffBase: time.Millisecond})
	_, err := r.Invoke(ctx, ModelConfig{Provider: "scripted-slow"}, "q")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := KindOf(err); got != KindCancelled {
		t.Errorf("expected KindCancelled, got %s", got)
	}
}
