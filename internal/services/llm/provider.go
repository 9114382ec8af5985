package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/interfaces"
	"golang.org/x/time/rate"
)

// Stream styles group providers by wire format.
const (
	StyleOpenAI    = "openai"
	StyleOllama    = "ollama"
	StyleAnthropic = "anthropic"
	StyleGoogle    = "google"
)

// System prompt tags recognized in the first user message. Some callers
// embed the system prompt inline; it is split out before dispatch.
const (
	systemPromptStart = "<START_OF_SYSTEM_PROMPT>"
	systemPromptEnd   = "<END_OF_SYSTEM_PROMPT>"
)

// ErrUnknownProvider is returned when no client serves a provider name.
var ErrUnknownProvider = fmt.Errorf("unknown provider")

// DetectProvider infers a provider from a model name prefix. Used when
// requests carry a model but no provider.
func DetectProvider(model string) string {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "google"
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return "openai"
	case strings.HasPrefix(model, "deepseek"):
		return "deepseek"
	case strings.HasPrefix(model, "llama"), strings.HasPrefix(model, "qwen"),
		strings.HasPrefix(model, "mistral"):
		return "ollama"
	}
	return ""
}

// isReasoningModel reports whether a model rejects sampling parameters.
func isReasoningModel(model string) bool {
	model = strings.ToLower(model)
	return strings.HasPrefix(model, "o1") ||
		strings.HasPrefix(model, "o3") ||
		strings.HasPrefix(model, "o4") ||
		strings.Contains(model, "-reasoning")
}

// Service resolves provider names to clients and runs completions with
// retry, pacing, and token-limit fallback applied.
type Service struct {
	clients         map[string]interfaces.CompletionClient
	defaultProvider string
	retry           *RetryConfig
	limiter         *rate.Limiter
	logger          arbor.ILogger
}

// NewService builds the provider registry from configuration. Providers
// without credentials are still registered; their first call fails with
// a clear error rather than silently rerouting.
func NewService(config *common.ProvidersConfig, logger arbor.ILogger) (*Service, error) {
	clients := make(map[string]interfaces.CompletionClient)

	openAIStyle := map[string]*common.ProviderRoute{
		"openai":     &config.OpenAI,
		"openrouter": &config.OpenRouter,
		"deepseek":   &config.DeepSeek,
		"azure":      &config.Azure,
	}
	for name, route := range openAIStyle {
		clients[name] = NewOpenAIClient(name, route, logger)
	}
	clients["ollama"] = NewOllamaClient(&config.Ollama, logger)

	if config.Anthropic.APIKey != "" {
		clients["anthropic"] = NewClaudeClient(&config.Anthropic, logger)
	}
	if config.Google.APIKey != "" {
		gemini, err := NewGeminiClient(context.Background(), &config.Google, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize google provider: %w", err)
		}
		clients["google"] = gemini
	}

	retryCfg := &RetryConfig{
		BaseDelay: config.RetryBaseDelay,
		MaxDelay:  config.RetryMaxDelay,
		Deadline:  config.RetryDeadline,
	}
	if retryCfg.BaseDelay <= 0 {
		retryCfg.BaseDelay = DefaultBaseDelay
	}
	if retryCfg.MaxDelay <= 0 {
		retryCfg.MaxDelay = DefaultMaxDelay
	}
	if retryCfg.Deadline <= 0 {
		retryCfg.Deadline = DefaultDeadline
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &Service{
		clients:         clients,
		defaultProvider: config.Default,
		retry:           retryCfg,
		limiter:         limiter,
		logger:          logger,
	}, nil
}

// Client returns the registered client for a provider name
func (s *Service) Client(provider string) (interfaces.CompletionClient, error) {
	client, ok := s.clients[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return client, nil
}

// resolve picks the client for a request, falling back to model-prefix
// detection and then the configured default
func (s *Service) resolve(provider, model string) (interfaces.CompletionClient, error) {
	if provider == "" && model != "" {
		provider = DetectProvider(model)
	}
	if provider == "" {
		provider = s.defaultProvider
	}
	return s.Client(provider)
}

// normalizeRequest applies per-provider quirks before dispatch:
// reasoning models lose sampling parameters, Anthropic drops top_p when
// temperature is set and always receives max_tokens, and inline system
// prompt tags in the first user message are split into a system message.
func normalizeRequest(provider string, req *interfaces.CompletionRequest) *interfaces.CompletionRequest {
	out := *req
	out.Messages = splitSystemTags(req.Messages)

	if isReasoningModel(out.Model) {
		out.Temperature = nil
		out.TopP = nil
	}

	if provider == "anthropic" {
		if out.Temperature != nil {
			out.TopP = nil
		}
		if out.MaxTokens <= 0 {
			out.MaxTokens = 4096
		}
	}

	return &out
}

// splitSystemTags extracts an inline system prompt from the first user
// message when one is wrapped in the recognized tags.
func splitSystemTags(messages []interfaces.Message) []interfaces.Message {
	for i, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		start := strings.Index(msg.Content, systemPromptStart)
		end := strings.Index(msg.Content, systemPromptEnd)
		if start < 0 || end < 0 || end < start {
			return messages
		}

		system := strings.TrimSpace(msg.Content[start+len(systemPromptStart) : end])
		remainder := strings.TrimSpace(msg.Content[:start] + msg.Content[end+len(systemPromptEnd):])

		out := make([]interfaces.Message, 0, len(messages)+1)
		out = append(out, interfaces.Message{Role: "system", Content: system})
		out = append(out, messages[:i]...)
		if remainder != "" {
			out = append(out, interfaces.Message{Role: "user", Content: remainder})
		}
		out = append(out, messages[i+1:]...)
		return out
	}
	return messages
}

// Complete runs a completion, retrying rate limits and transient
// provider failures with backoff until the retry deadline expires.
func (s *Service) Complete(ctx context.Context, provider string, req *interfaces.CompletionRequest) (string, interfaces.Usage, error) {
	client, err := s.resolve(provider, req.Model)
	if err != nil {
		return "", interfaces.Usage{}, err
	}
	normalized := normalizeRequest(client.Provider(), req)

	deadline := time.Now().Add(s.retry.Deadline)
	var lastErr error

	for attempt := 0; ; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return "", interfaces.Usage{}, err
			}
		}

		text, usage, err := client.Complete(ctx, normalized)
		if err == nil {
			return text, usage, nil
		}
		if !IsRetryableError(err) {
			return "", interfaces.Usage{}, err
		}
		lastErr = err

		backoff := s.retry.CalculateBackoff(attempt, ExtractRetryDelay(err))
		if time.Now().Add(backoff).After(deadline) {
			return "", interfaces.Usage{}, fmt.Errorf("retry deadline exceeded after %d attempts: %w", attempt+1, lastErr)
		}

		s.logger.Warn().
			Str("provider", client.Provider()).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(err).
			Msg("Provider call failed, backing off")

		select {
		case <-ctx.Done():
			return "", interfaces.Usage{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// Stream runs a streaming completion against the named provider,
// delivering response text through onDelta as it arrives. Backoff
// retries apply only while nothing has been delivered; once deltas have
// flowed, errors surface immediately. A token-limit rejection before
// the first delta is retried once with the fallback conversation.
func (s *Service) Stream(ctx context.Context, provider string, req *interfaces.CompletionRequest, fallbackMessages []interfaces.Message, onDelta interfaces.DeltaFunc) (interfaces.Usage, error) {
	client, err := s.resolve(provider, req.Model)
	if err != nil {
		return interfaces.Usage{}, err
	}
	normalized := normalizeRequest(client.Provider(), req)

	usage, delivered, err := s.streamWithRetry(ctx, client, normalized, onDelta)
	if err == nil || delivered || !IsTokenLimitError(err) || len(fallbackMessages) == 0 {
		return usage, err
	}

	s.logger.Warn().
		Str("provider", client.Provider()).
		Str("model", req.Model).
		Msg("Prompt exceeded context window, streaming without retrieval context")

	fallback := *normalized
	fallback.Messages = fallbackMessages
	usage, _, err = s.streamWithRetry(ctx, client, &fallback, onDelta)
	return usage, err
}

func (s *Service) streamWithRetry(ctx context.Context, client interfaces.CompletionClient, req *interfaces.CompletionRequest, onDelta interfaces.DeltaFunc) (interfaces.Usage, bool, error) {
	deadline := time.Now().Add(s.retry.Deadline)
	var lastErr error

	for attempt := 0; ; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return interfaces.Usage{}, false, err
			}
		}

		delivered := false
		usage, err := client.Stream(ctx, req, func(delta string) error {
			delivered = true
			return onDelta(delta)
		})
		if err == nil {
			return usage, delivered, nil
		}
		if delivered || !IsRetryableError(err) {
			return usage, delivered, err
		}
		lastErr = err

		backoff := s.retry.CalculateBackoff(attempt, ExtractRetryDelay(err))
		if time.Now().Add(backoff).After(deadline) {
			return interfaces.Usage{}, false, fmt.Errorf("retry deadline exceeded after %d attempts: %w", attempt+1, lastErr)
		}

		s.logger.Warn().
			Str("provider", client.Provider()).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(err).
			Msg("Provider stream failed, backing off")

		select {
		case <-ctx.Done():
			return interfaces.Usage{}, false, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// CompleteWithFallback behaves like Complete, but when the provider
// rejects the prompt for exceeding its context window the request is
// retried exactly once with the context-stripped conversation.
func (s *Service) CompleteWithFallback(ctx context.Context, provider string, req *interfaces.CompletionRequest, fallbackMessages []interfaces.Message) (string, interfaces.Usage, error) {
	text, usage, err := s.Complete(ctx, provider, req)
	if err == nil || !IsTokenLimitError(err) || len(fallbackMessages) == 0 {
		return text, usage, err
	}

	s.logger.Warn().
		Str("provider", provider).
		Str("model", req.Model).
		Msg("Prompt exceeded context window, retrying without retrieval context")

	fallback := *req
	fallback.Messages = fallbackMessages
	return s.Complete(ctx, provider, &fallback)
}
