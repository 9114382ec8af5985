package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"google.golang.org/genai"
)

// GeminiClient serves completions through the Gemini API.
type GeminiClient struct {
	client *genai.Client
	route  *common.ProviderRoute
	logger arbor.ILogger
}

func NewGeminiClient(ctx context.Context, route *common.ProviderRoute, logger arbor.ILogger) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  route.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, route: route, logger: logger}, nil
}

func (c *GeminiClient) Provider() string { return "google" }

// buildContents converts the neutral conversation into Gemini contents.
// System messages go into the generation config, assistant turns map to
// the model role.
func (c *GeminiClient) buildContents(req *interfaces.CompletionRequest) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := req.Model
	if model == "" {
		model = c.route.DefaultModel
	}

	var system []string
	var contents []*genai.Content
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
			})
		}
	}

	config := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.TopP != nil {
		config.TopP = genai.Ptr(float32(*req.TopP))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return model, contents, config
}

func (c *GeminiClient) Complete(ctx context.Context, req *interfaces.CompletionRequest) (string, interfaces.Usage, error) {
	model, contents, config := c.buildContents(req)

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", interfaces.Usage{}, fmt.Errorf("gemini completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", interfaces.Usage{}, fmt.Errorf("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	var usage interfaces.Usage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int64(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return text.String(), usage, nil
}

func (c *GeminiClient) Stream(ctx context.Context, req *interfaces.CompletionRequest, fn interfaces.DeltaFunc) (interfaces.Usage, error) {
	model, contents, config := c.buildContents(req)

	var usage interfaces.Usage
	for resp, err := range c.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			return usage, fmt.Errorf("gemini stream failed: %w", err)
		}
		if resp.UsageMetadata != nil {
			usage.PromptTokens = int64(resp.UsageMetadata.PromptTokenCount)
			usage.CompletionTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
		}
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text == "" {
					continue
				}
				if err := fn(part.Text); err != nil {
					return usage, err
				}
			}
		}
	}
	return usage, nil
}
