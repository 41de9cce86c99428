package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"datachat/logger"
)

// ModelConfig is the resolved provider configuration for one invocation.
// APIKey arrives already deciphered and must never be logged.
type ModelConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Invocation is one successful provider reply.
type Invocation struct {
	Text       string
	TokensUsed int
	Latency    time.Duration
}

// ProviderError carries the provider's HTTP status so the router can decide
// between retrying and failing fast.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.Status, e.Body)
}

// Retryable reports whether another attempt may succeed: server-side errors
// and rate limits, never other 4xx.
func (e *ProviderError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Adapter wraps one provider protocol. Implementations register at startup
// under their provider key.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, mc ModelConfig, prompt string) (*Invocation, error)
}

var (
	adaptersMu sync.RWMutex
	adapters   = map[string]Adapter{}
)

// RegisterAdapter installs a provider adapter under its key. Later
// registrations with the same key replace earlier ones.
func RegisterAdapter(a Adapter) {
	adaptersMu.Lock()
	adapters[a.Name()] = a
	adaptersMu.Unlock()
}

func adapterFor(provider string) (Adapter, bool) {
	adaptersMu.RLock()
	defer adaptersMu.RUnlock()
	a, ok := adapters[provider]
	return a, ok
}

// RouterOptions tunes retry and pacing behavior.
type RouterOptions struct {
	MaxRetries     int           // Extra attempts after the first
	BackoffBase    time.Duration // First backoff step, doubled per retry
	BackoffCap     time.Duration // Backoff ceiling
	AttemptTimeout time.Duration // Per-attempt deadline
	OverallTimeout time.Duration // Budget for all attempts together
	RateLimit      float64       // Client-side requests/second per provider, 0 disables
}

// Router invokes the selected provider adapter with retry, backoff, pacing
// and cancellation. One router is shared by all turns.
type Router struct {
	opts RouterOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRouter creates a router.
func NewRouter(opts RouterOptions) *Router {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 8 * time.Second
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 30 * time.Second
	}
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = 60 * time.Second
	}
	return &Router{opts: opts, limiters: map[string]*rate.Limiter{}}
}

// Invoke calls the provider for mc, retrying transient failures inside the
// overall budget. Cancellation of ctx propagates into the HTTP transport.
func (r *Router) Invoke(ctx context.Context, mc ModelConfig, prompt string) (*Invocation, error) {
	adapter, ok := adapterFor(mc.Provider)
	if !ok {
		return nil, Fail("llm", KindModelUnsupported, fmt.Errorf("no adapter registered for provider %q", mc.Provider))
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.OverallTimeout)
	defer cancel()

	log := logger.With("llm-router")
	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if err := r.pace(ctx, mc.Provider); err != nil {
			break
		}

		attemptCtx, attemptCancel := context.WithTimeout(ctx, r.opts.AttemptTimeout)
		start := time.Now()
		inv, err := adapter.Invoke(attemptCtx, mc, prompt)
		attemptCancel()

		if err == nil {
			inv.Latency = time.Since(start)
			llmRequests.WithLabelValues(mc.Provider, "ok").Inc()
			llmTokens.WithLabelValues(mc.Provider).Add(float64(inv.TokensUsed))
			return inv, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}

		var pe *ProviderError
		if errors.As(err, &pe) && !pe.Retryable() {
			llmRequests.WithLabelValues(mc.Provider, "rejected").Inc()
			return nil, Fail("llm", KindModelRejected, err)
		}

		llmRequests.WithLabelValues(mc.Provider, "retryable").Inc()
		log.Warnf("%s attempt %d/%d failed: %v", mc.Provider, attempt+1, r.opts.MaxRetries+1, logger.Redact(err.Error()))

		if attempt < r.opts.MaxRetries {
			backoff := r.opts.BackoffBase << attempt
			if backoff > r.opts.BackoffCap {
				backoff = r.opts.BackoffCap
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
		}
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, Fail("llm", KindCancelled, ctx.Err())
	}
	llmRequests.WithLabelValues(mc.Provider, "unavailable").Inc()
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, Fail("llm", KindModelUnavailable, lastErr)
}

// pace applies the optional client-side rate limit before an attempt.
func (r *Router) pace(ctx context.Context, provider string) error {
	if r.opts.RateLimit <= 0 {
		return nil
	}
	r.mu.Lock()
	lim, ok := r.limiters[provider]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(r.opts.RateLimit), 1)
		r.limiters[provider] = lim
	}
	r.mu.Unlock()
	return lim.Wait(ctx)
}
