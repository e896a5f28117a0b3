package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	envProvider = "WEBPILOT_LLM" // "anthropic", "openai" or "gemini"

	defaultMaxTokens = 2048
	requestTimeout   = 60 * time.Second

	maxRetries     = 3
	retryBaseDelay = 500 * time.Millisecond
	maxRequestSize = 200000 // ~200KB limit for safety
)

// Client is a text-in, text-out model. Providers differ only in transport;
// callers never see provider payloads.
type Client interface {
	GenerateText(ctx context.Context, req Request) (Completion, error)
	Name() string
}

type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

type Completion struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates another call's token counts.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// FromEnv creates a client based on the WEBPILOT_LLM env var.
// Defaults to Anthropic if not specified.
func FromEnv() (Client, error) {
	return FromEnvWithLogger(zerolog.Nop())
}

// FromEnvWithLogger creates a client with a logger for request tracing.
func FromEnvWithLogger(logger zerolog.Logger) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv(envProvider)))
	if provider == "" {
		provider = "anthropic"
	}

	switch provider {
	case "anthropic":
		return NewAnthropicFromEnv(logger)
	case "openai":
		return NewOpenAIFromEnv(logger)
	case "gemini":
		return NewGeminiFromEnv(logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'anthropic', 'openai' or 'gemini')", provider)
	}
}

// truncate caps prompt fields so a runaway page dump cannot blow past
// provider request limits.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... [truncated]"
}

func preview(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func backoff(attempt int) time.Duration {
	return retryBaseDelay * time.Duration(1<<uint(attempt-1))
}

// retryable reports whether an HTTP status is worth another attempt.
// Rate limits and server errors are; other 4xx are not.
func retryable(status int) bool {
	return status == 429 || status >= 500
}
