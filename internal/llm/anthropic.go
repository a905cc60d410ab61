package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultModel = "claude-sonnet-4-5"

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string, opts ...Option) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if o := buildOptions(opts); o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(reqOpts...)}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return string(ProviderAnthropic)
}

// Models returns available models.
func (c *AnthropicClient) Models() []string {
	return []string{
		anthropicDefaultModel,
		"claude-opus-4-1",
		"claude-3-7-sonnet-latest",
		"claude-3-5-haiku-latest",
	}
}

// anthropicParams converts req. System messages go to the dedicated system
// field since the Messages API only accepts user and assistant turns.
func anthropicParams(req *CompletionRequest) anthropic.MessageNewParams {
	model, maxTokens := withDefaults(req, anthropicDefaultModel)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case "system":
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	return params
}

func anthropicText(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// Complete sends a completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.client.Messages.New(ctx, anthropicParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	return &CompletionResponse{
		Content:    anthropicText(resp),
		Model:      string(resp.Model),
		TokensIn:   int(resp.Usage.InputTokens),
		TokensOut:  int(resp.Usage.OutputTokens),
		StopReason: string(resp.StopReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// CompleteStream sends a streaming completion request.
func (c *AnthropicClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()
	params := anthropicParams(req)

	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	index := 0
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic stream: %w", err)
		}
		if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" {
			if err := callback(event.Delta.Text, index); err != nil {
				return nil, err
			}
			index++
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	model := string(message.Model)
	if model == "" {
		model = string(params.Model)
	}
	return &CompletionResponse{
		Content:    anthropicText(&message),
		Model:      model,
		TokensIn:   int(message.Usage.InputTokens),
		TokensOut:  int(message.Usage.OutputTokens),
		StopReason: string(message.StopReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
