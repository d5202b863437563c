package reasoning

import (
	"context"
	"fmt"
)

// ToolSchema describes one tool in the catalogue surfaced to the
// reasoning service.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// Request contains the parameters for one reasoning round trip.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSchema
	Temperature float64
	MaxTokens   int
}

// TokenUsage tracks token consumption for one round trip.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the reasoning service's answer to one request.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// Provider is a single reasoning service backend.
type Provider interface {
	// Complete makes one blocking round trip.
	Complete(ctx context.Context, request Request) (*Response, error)

	// Stream makes one round trip, delivering text deltas to onText as
	// they arrive. The returned response carries the accumulated
	// content and any tool calls. The sequence is finite and not
	// restartable.
	Stream(ctx context.Context, request Request, onText func(string)) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// NewProvider creates a provider backend by name.
func NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
