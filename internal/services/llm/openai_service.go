package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/interfaces"
)

// Default base URLs for the OpenAI-compatible providers. Azure has no
// default; its endpoint is deployment-specific and must be configured.
var openAIBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"deepseek":   "https://api.deepseek.com/v1",
}

// OpenAIClient serves completions through any chat-completions
// compatible endpoint: OpenAI, OpenRouter, DeepSeek, and Azure OpenAI.
type OpenAIClient struct {
	provider   string
	route      *common.ProviderRoute
	httpClient *http.Client
	logger     arbor.ILogger
}

func NewOpenAIClient(provider string, route *common.ProviderRoute, logger arbor.ILogger) *OpenAIClient {
	return &OpenAIClient{
		provider:   provider,
		route:      route,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		logger:     logger,
	}
}

func (c *OpenAIClient) Provider() string { return c.provider }

type openAIRequest struct {
	Model         string               `json:"model"`
	Messages      []interfaces.Message `json:"messages"`
	Temperature   *float64             `json:"temperature,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *streamOptions       `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// endpoint builds the chat completions URL for this provider. Azure
// routes through deployment paths with an api-version query.
func (c *OpenAIClient) endpoint(model string) (string, error) {
	if c.provider == "azure" {
		if c.route.BaseURL == "" {
			return "", fmt.Errorf("azure provider requires an endpoint URL")
		}
		base := strings.TrimRight(c.route.BaseURL, "/")
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=2024-02-01", base, model), nil
	}
	base := c.route.BaseURL
	if base == "" {
		base = openAIBaseURLs[c.provider]
	}
	return strings.TrimRight(base, "/") + "/chat/completions", nil
}

func (c *OpenAIClient) newRequest(ctx context.Context, req *interfaces.CompletionRequest, stream bool) (*http.Request, string, error) {
	if c.route.APIKey == "" {
		return nil, "", fmt.Errorf("no API key configured for provider %s", c.provider)
	}
	model := req.Model
	if model == "" {
		model = c.route.DefaultModel
	}

	body := openAIRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if stream {
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url, err := c.endpoint(model)
	if err != nil {
		return nil, "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.provider == "azure" {
		httpReq.Header.Set("api-key", c.route.APIKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+c.route.APIKey)
	}
	return httpReq, model, nil
}

// apiError surfaces the provider's status and body so retry
// classification can see rate limit and context window markers.
func apiError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed openAIResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
		return fmt.Errorf("%s request failed with status %d: %s", provider, resp.StatusCode, parsed.Error.Message)
	}
	return fmt.Errorf("%s request failed with status %d: %s", provider, resp.StatusCode, strings.TrimSpace(string(body)))
}

func (c *OpenAIClient) Complete(ctx context.Context, req *interfaces.CompletionRequest) (string, interfaces.Usage, error) {
	httpReq, _, err := c.newRequest(ctx, req, false)
	if err != nil {
		return "", interfaces.Usage{}, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", interfaces.Usage{}, fmt.Errorf("%s request failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", interfaces.Usage{}, apiError(c.provider, resp)
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", interfaces.Usage{}, fmt.Errorf("failed to decode %s response: %w", c.provider, err)
	}
	if len(parsed.Choices) == 0 {
		return "", interfaces.Usage{}, fmt.Errorf("%s returned no choices", c.provider)
	}

	var usage interfaces.Usage
	if parsed.Usage != nil {
		usage.PromptTokens = parsed.Usage.PromptTokens
		usage.CompletionTokens = parsed.Usage.CompletionTokens
	}
	return parsed.Choices[0].Message.Content, usage, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, req *interfaces.CompletionRequest, fn interfaces.DeltaFunc) (interfaces.Usage, error) {
	httpReq, _, err := c.newRequest(ctx, req, true)
	if err != nil {
		return interfaces.Usage{}, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return interfaces.Usage{}, fmt.Errorf("%s request failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return interfaces.Usage{}, apiError(c.provider, resp)
	}

	var usage interfaces.Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk openAIResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := fn(choice.Delta.Content); err != nil {
				return usage, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return usage, fmt.Errorf("%s stream failed: %w", c.provider, err)
	}
	return usage, nil
}
