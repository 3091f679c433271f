// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CompletionRequest represents a completion request. Parts are sent, in
// order, as the parts of a single user turn.
type CompletionRequest struct {
	Model       string
	Parts       []string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// ErrNoContent is returned when a provider answered successfully but the
// payload carried no usable text.
var ErrNoContent = errors.New("llm: response has no content")

// StatusError is returned when a provider answered with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status=%d body=%s", e.Provider, e.StatusCode, e.Body)
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Options tunes provider construction. Zero values select provider defaults.
type Options struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string, opts Options) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, opts)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, opts)
	default:
		return NewGeminiClient(apiKey, opts)
	}
}
