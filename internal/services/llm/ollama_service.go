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

const defaultOllamaHost = "http://localhost:11434"

// OllamaClient serves completions from a local Ollama server using its
// NDJSON chat endpoint.
type OllamaClient struct {
	route      *common.ProviderRoute
	httpClient *http.Client
	logger     arbor.ILogger
}

func NewOllamaClient(route *common.ProviderRoute, logger arbor.ILogger) *OllamaClient {
	return &OllamaClient{
		route:      route,
		httpClient: &http.Client{Timeout: 15 * time.Minute},
		logger:     logger,
	}
}

func (c *OllamaClient) Provider() string { return "ollama" }

type ollamaRequest struct {
	Model    string               `json:"model"`
	Messages []interfaces.Message `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  map[string]any       `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
	Error           string `json:"error"`
}

func (c *OllamaClient) newRequest(ctx context.Context, req *interfaces.CompletionRequest, stream bool) (*http.Request, error) {
	model := req.Model
	if model == "" {
		model = c.route.DefaultModel
	}

	options := make(map[string]any)
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		options["top_p"] = *req.TopP
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	payload, err := json.Marshal(ollamaRequest{
		Model:    model,
		Messages: req.Messages,
		Stream:   stream,
		Options:  options,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	host := c.route.BaseURL
	if host == "" {
		host = defaultOllamaHost
	}
	url := strings.TrimRight(host, "/") + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func (c *OllamaClient) Complete(ctx context.Context, req *interfaces.CompletionRequest) (string, interfaces.Usage, error) {
	httpReq, err := c.newRequest(ctx, req, false)
	if err != nil {
		return "", interfaces.Usage{}, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", interfaces.Usage{}, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", interfaces.Usage{}, fmt.Errorf("ollama request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", interfaces.Usage{}, fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if parsed.Error != "" {
		return "", interfaces.Usage{}, fmt.Errorf("ollama error: %s", parsed.Error)
	}

	usage := interfaces.Usage{
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
	}
	return parsed.Message.Content, usage, nil
}

func (c *OllamaClient) Stream(ctx context.Context, req *interfaces.CompletionRequest, fn interfaces.DeltaFunc) (interfaces.Usage, error) {
	httpReq, err := c.newRequest(ctx, req, true)
	if err != nil {
		return interfaces.Usage{}, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return interfaces.Usage{}, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return interfaces.Usage{}, fmt.Errorf("ollama request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var usage interfaces.Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk ollamaResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return usage, fmt.Errorf("ollama error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := fn(chunk.Message.Content); err != nil {
				return usage, err
			}
		}
		if chunk.Done {
			usage.PromptTokens = chunk.PromptEvalCount
			usage.CompletionTokens = chunk.EvalCount
		}
	}
	if err := scanner.Err(); err != nil {
		return usage, fmt.Errorf("ollama stream failed: %w", err)
	}
	return usage, nil
}
