package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/interfaces"
)

// ClaudeClient serves completions through the Anthropic Messages API.
type ClaudeClient struct {
	client anthropic.Client
	route  *common.ProviderRoute
	logger arbor.ILogger
}

func NewClaudeClient(route *common.ProviderRoute, logger arbor.ILogger) *ClaudeClient {
	opts := []option.RequestOption{option.WithAPIKey(route.APIKey)}
	if route.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(route.BaseURL))
	}
	return &ClaudeClient{
		client: anthropic.NewClient(opts...),
		route:  route,
		logger: logger,
	}
}

func (c *ClaudeClient) Provider() string { return "anthropic" }

// buildParams converts the neutral request into Messages API params.
// System messages become the top-level system block; the rest must
// alternate user/assistant, so consecutive same-role messages are merged.
func (c *ClaudeClient) buildParams(req *interfaces.CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = c.route.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	var system []string
	var messages []anthropic.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			messages = appendClaudeMessage(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = appendClaudeMessage(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	} else if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	return params
}

func appendClaudeMessage(messages []anthropic.MessageParam, msg anthropic.MessageParam) []anthropic.MessageParam {
	if len(messages) > 0 && messages[len(messages)-1].Role == msg.Role {
		prev := &messages[len(messages)-1]
		prev.Content = append(prev.Content, msg.Content...)
		return messages
	}
	return append(messages, msg)
}

func (c *ClaudeClient) Complete(ctx context.Context, req *interfaces.CompletionRequest) (string, interfaces.Usage, error) {
	params := c.buildParams(req)

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", interfaces.Usage{}, fmt.Errorf("anthropic completion failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	usage := interfaces.Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}
	return text.String(), usage, nil
}

func (c *ClaudeClient) Stream(ctx context.Context, req *interfaces.CompletionRequest, fn interfaces.DeltaFunc) (interfaces.Usage, error) {
	params := c.buildParams(req)

	stream := c.client.Messages.NewStreaming(ctx, params)
	var usage interfaces.Usage
	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if variant.Delta.Type == "text_delta" && variant.Delta.Text != "" {
				if err := fn(variant.Delta.Text); err != nil {
					return usage, err
				}
			}
		case anthropic.MessageStartEvent:
			usage.PromptTokens = variant.Message.Usage.InputTokens
		case anthropic.MessageDeltaEvent:
			usage.CompletionTokens = variant.Usage.OutputTokens
		}
	}
	if err := stream.Err(); err != nil {
		return usage, fmt.Errorf("anthropic stream failed: %w", err)
	}
	return usage, nil
}
