// Package llm provides LLM client interfaces and implementations used to
// drive recorded agent sessions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProvider is returned for provider names other than anthropic or openai.
var ErrUnknownProvider = errors.New("unknown llm provider")

// ErrMissingAPIKey is returned when a client is built without credentials.
var ErrMissingAPIKey = errors.New("llm api key is required")

const defaultMaxTokens = 4096

// StreamCallback is called for each token during streaming.
type StreamCallback func(token string, index int) error

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	Stream      bool
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
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

	// CompleteStream sends a streaming completion request.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ParseProvider maps a case-insensitive name to a Provider.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case ProviderAnthropic, ProviderOpenAI:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

type options struct {
	baseURL string
}

// Option configures a provider client.
type Option func(*options)

// WithBaseURL points the client at a proxy or compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string, opts ...Option) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, opts...)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

// withDefaults fills the model and token limit when the request leaves them empty.
func withDefaults(req *CompletionRequest, model string) (string, int) {
	m := req.Model
	if m == "" {
		m = model
	}
	n := req.MaxTokens
	if n <= 0 {
		n = defaultMaxTokens
	}
	return m, n
}
