package reasoning

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrNoContent indicates the reasoning service returned neither text
// nor tool calls.
var ErrNoContent = errors.New("reasoning service returned no content")

// Client wraps one reasoning service backend with the model settings
// used for every round trip.
type Client struct {
	provider    Provider
	model       string
	temperature float64
	maxTokens   int
	logger      zerolog.Logger
}

// ClientConfig holds reasoning client configuration.
type ClientConfig struct {
	Provider    Provider
	Model       string
	Temperature float64
	MaxTokens   int
	Logger      zerolog.Logger
}

// NewClient creates a reasoning client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &Client{
		provider:    cfg.Provider,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      cfg.Logger.With().Str("module", "reasoning").Logger(),
	}, nil
}

// Call makes one blocking round trip. Orphaned tool references are
// pruned before the list leaves the process; a nil provider response is
// normalized to an empty one so callers only deal with transport errors
// and the no-content case.
func (c *Client) Call(ctx context.Context, messages []Message, tools []ToolSchema) (*Response, error) {
	request := c.buildRequest(messages, tools)

	response, err := c.provider.Complete(ctx, request)
	if err != nil {
		return nil, err
	}
	if response == nil {
		response = &Response{}
	}

	c.logResponse(response)
	return response, nil
}

// StreamText makes one streaming round trip, forwarding text deltas to
// onText as they arrive. The chunk sequence is finite and cannot be
// restarted.
func (c *Client) StreamText(ctx context.Context, messages []Message, tools []ToolSchema, onText func(string)) (*Response, error) {
	request := c.buildRequest(messages, tools)

	response, err := c.provider.Stream(ctx, request, onText)
	if err != nil {
		return nil, err
	}
	if response == nil {
		response = &Response{}
	}

	c.logResponse(response)
	return response, nil
}

func (c *Client) buildRequest(messages []Message, tools []ToolSchema) Request {
	pruned := PruneOrphans(messages)

	system := ""
	for _, msg := range pruned {
		if msg.Role == RoleSystem {
			system = msg.Content
			break
		}
	}

	return Request{
		Model:       c.model,
		System:      system,
		Messages:    pruned,
		Tools:       tools,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
}

func (c *Client) logResponse(response *Response) {
	event := c.logger.Debug().
		Str("provider", c.provider.Name()).
		Int("tool_calls", len(response.ToolCalls)).
		Int("content_len", len(response.Content))
	if response.Usage != nil {
		event = event.
			Int("input_tokens", response.Usage.InputTokens).
			Int("output_tokens", response.Usage.OutputTokens)
	}
	event.Msg("Reasoning round trip completed")
}
