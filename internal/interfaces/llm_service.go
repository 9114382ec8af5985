package interfaces

import (
	"context"
)

// Message represents a single message in a chat conversation
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string `json:"role"`

	// Content contains the text content of the message
	Content string `json:"content"`
}

// Usage reports token consumption for one provider call. Zero values mean
// the provider did not report usage and callers should estimate.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// CompletionRequest carries everything a provider needs for one call.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

// DeltaFunc receives streamed response text as it arrives. Returning an
// error aborts the stream.
type DeltaFunc func(delta string) error

// CompletionClient defines the interface for chat completion providers.
// Implementations normalize vendor-specific wire formats into a single
// text-in, text-out contract.
type CompletionClient interface {
	// Complete generates a full response for the request.
	Complete(ctx context.Context, req *CompletionRequest) (string, Usage, error)

	// Stream generates a response and delivers it incrementally through
	// onDelta. The accumulated usage is returned when the stream ends.
	Stream(ctx context.Context, req *CompletionRequest, onDelta DeltaFunc) (Usage, error)

	// Provider returns the provider name this client serves.
	Provider() string
}

// CompletionService resolves a provider/model pair to a client and runs
// completions with retry, backoff, and token-limit fallback applied.
type CompletionService interface {
	// Complete runs a completion against the named provider. An empty
	// provider is resolved from the model name.
	Complete(ctx context.Context, provider string, req *CompletionRequest) (string, Usage, error)

	// CompleteWithFallback behaves like Complete but retries once without
	// the supplied context block when the provider rejects the request
	// for exceeding its token limit. fallbackMessages must be the same
	// conversation with retrieval context stripped.
	CompleteWithFallback(ctx context.Context, provider string, req *CompletionRequest, fallbackMessages []Message) (string, Usage, error)

	// Stream behaves like CompleteWithFallback but delivers the response
	// incrementally through onDelta.
	Stream(ctx context.Context, provider string, req *CompletionRequest, fallbackMessages []Message, onDelta DeltaFunc) (Usage, error)
}
