// Package reasoning wraps the external text-generation collaborator.
//
// The engine delegates narrative judgment (contradiction checks, counter
// theses) to an LLM behind the Client interface. Responses are untrusted
// text: callers extract structured blocks with ExtractJSONBlock and treat
// malformed output as a recoverable condition, never a crash.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"
)

// Sentinel errors for reasoning operations.
var (
	// ErrInvalidConfig indicates invalid client configuration.
	ErrInvalidConfig = errors.New("invalid reasoning configuration")

	// ErrUnavailable indicates the reasoning backend failed after retries.
	// Propagated to the caller; never silently replaced with default text.
	ErrUnavailable = errors.New("reasoning service unavailable")
)

const (
	defaultMaxTokens   = 1000
	defaultMaxRetries  = 3
	defaultRateLimit   = 2 // requests per second
	defaultBurst       = 4
	defaultBaseBackoff = 500 * time.Millisecond
)

// Client generates text from a structured prompt.
type Client interface {
	// Generate produces text for the given system context and user prompt.
	// maxTokens <= 0 selects the client default.
	Generate(ctx context.Context, systemContext, userPrompt string, maxTokens int) (string, error)
}

// Config holds configuration for the LLM-backed client.
type Config struct {
	// Provider selects the backend: "anthropic" (default) or "openai".
	Provider string
	// Model is the model identifier. Provider default when empty.
	Model string
	// Token is the API key.
	Token string
	// RequestsPerSecond throttles outbound calls. Defaults to 2.
	RequestsPerSecond float64
	// MaxRetries bounds retry attempts on transient failures. Defaults to 3.
	MaxRetries int
}

// LLMClient implements Client over a langchaingo model with rate limiting
// and bounded exponential-backoff retries.
type LLMClient struct {
	model      llms.Model
	limiter    *rate.Limiter
	maxRetries int
}

// NewClient creates an LLM-backed reasoning client.
func NewClient(cfg Config) (*LLMClient, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: API token required", ErrInvalidConfig)
	}

	var model llms.Model
	var err error
	switch cfg.Provider {
	case "anthropic", "":
		opts := []anthropic.Option{anthropic.WithToken(cfg.Token)}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		model, err = anthropic.New(opts...)
	case "openai":
		opts := []openai.Option{openai.WithToken(cfg.Token)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s model: %w", cfg.Provider, err)
	}

	return NewClientWithModel(model, cfg), nil
}

// NewClientWithModel wraps an existing langchaingo model. Used by tests and
// callers that construct the model themselves.
func NewClientWithModel(model llms.Model, cfg Config) *LLMClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRateLimit
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &LLMClient{
		model:      model,
		limiter:    rate.NewLimiter(rate.Limit(rps), defaultBurst),
		maxRetries: retries,
	}
}

// Generate produces text for the given prompt, retrying transient failures.
func (c *LLMClient) Generate(ctx context.Context, systemContext, userPrompt string, maxTokens int) (string, error) {
	if userPrompt == "" {
		return "", fmt.Errorf("%w: prompt cannot be empty", ErrInvalidConfig)
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	messages := make([]llms.MessageContent, 0, 2)
	if systemContext != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, systemContext))
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, userPrompt))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		resp, err := c.model.GenerateContent(ctx, messages,
			llms.WithMaxTokens(maxTokens),
			llms.WithTemperature(0.3),
		)
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("empty response")
			continue
		}
		return resp.Choices[0].Content, nil
	}

	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

var _ Client = (*LLMClient)(nil)
