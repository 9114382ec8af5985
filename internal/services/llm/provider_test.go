package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/codewiki/internal/common"
	"github.com/ternarybob/codewiki/internal/interfaces"
)

func TestDetectProvider(t *testing.T) {
	assert.Equal(t, "anthropic", DetectProvider("claude-sonnet-4"))
	assert.Equal(t, "google", DetectProvider("gemini-2.5-flash"))
	assert.Equal(t, "openai", DetectProvider("gpt-4o"))
	assert.Equal(t, "openai", DetectProvider("o3-mini"))
	assert.Equal(t, "deepseek", DetectProvider("deepseek-chat"))
	assert.Equal(t, "ollama", DetectProvider("llama3.1:8b"))
	assert.Equal(t, "ollama", DetectProvider("qwen2.5-coder"))
	assert.Empty(t, DetectProvider("mystery-model"))
	assert.Empty(t, DetectProvider(""))
}

func TestIsReasoningModel(t *testing.T) {
	assert.True(t, isReasoningModel("o1-preview"))
	assert.True(t, isReasoningModel("O3-mini"))
	assert.True(t, isReasoningModel("custom-reasoning-v2"))
	assert.False(t, isReasoningModel("gpt-4o"))
	assert.False(t, isReasoningModel("gemini-2.5-flash"))
}

func TestNormalizeRequestStripsSamplingForReasoningModels(t *testing.T) {
	temp := 0.7
	topP := 0.9
	req := &interfaces.CompletionRequest{
		Model:       "o1-preview",
		Temperature: &temp,
		TopP:        &topP,
		Messages:    []interfaces.Message{{Role: "user", Content: "hi"}},
	}

	normalized := normalizeRequest("openai", req)
	assert.Nil(t, normalized.Temperature)
	assert.Nil(t, normalized.TopP)

	// The original request is left untouched
	assert.NotNil(t, req.Temperature)
}

func TestNormalizeRequestAnthropicQuirks(t *testing.T) {
	temp := 0.7
	topP := 0.9
	req := &interfaces.CompletionRequest{
		Model:       "claude-sonnet-4",
		Temperature: &temp,
		TopP:        &topP,
		Messages:    []interfaces.Message{{Role: "user", Content: "hi"}},
	}

	normalized := normalizeRequest("anthropic", req)
	assert.NotNil(t, normalized.Temperature)
	assert.Nil(t, normalized.TopP)
	assert.Equal(t, 4096, normalized.MaxTokens)
}

func TestSplitSystemTags(t *testing.T) {
	messages := []interfaces.Message{
		{Role: "user", Content: "<START_OF_SYSTEM_PROMPT>You are a helpful wiki writer.<END_OF_SYSTEM_PROMPT>Describe the repo."},
	}

	split := splitSystemTags(messages)
	require.Len(t, split, 2)
	assert.Equal(t, "system", split[0].Role)
	assert.Equal(t, "You are a helpful wiki writer.", split[0].Content)
	assert.Equal(t, "user", split[1].Role)
	assert.Equal(t, "Describe the repo.", split[1].Content)
}

func TestSplitSystemTagsNoTags(t *testing.T) {
	messages := []interfaces.Message{
		{Role: "user", Content: "Describe the repo."},
	}
	assert.Equal(t, messages, splitSystemTags(messages))
}

func TestSplitSystemTagsOnlySystemContent(t *testing.T) {
	messages := []interfaces.Message{
		{Role: "user", Content: "<START_OF_SYSTEM_PROMPT>System only.<END_OF_SYSTEM_PROMPT>"},
	}

	split := splitSystemTags(messages)
	require.Len(t, split, 1)
	assert.Equal(t, "system", split[0].Role)
}

func TestServiceResolvesProviders(t *testing.T) {
	config := &common.ProvidersConfig{Default: "ollama"}
	service, err := NewService(config, common.GetLogger())
	require.NoError(t, err)

	client, err := service.Client("ollama")
	require.NoError(t, err)
	assert.Equal(t, "ollama", client.Provider())

	client, err = service.resolve("", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai", client.Provider())

	// No provider and no recognizable model falls back to the default
	client, err = service.resolve("", "")
	require.NoError(t, err)
	assert.Equal(t, "ollama", client.Provider())

	_, err = service.Client("unknown")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	// Without an API key the anthropic client is never registered
	_, err = service.Client("anthropic")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
