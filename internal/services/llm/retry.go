package llm

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryConfig defines backoff behavior for provider rate limit handling.
type RetryConfig struct {
	// BaseDelay is the initial wait time before the first retry (default: 1s)
	BaseDelay time.Duration

	// MaxDelay is the maximum wait time between retries (default: 60s)
	MaxDelay time.Duration

	// Deadline is the overall budget across all retries (default: 600s)
	Deadline time.Duration
}

// Default retry constants shared by all providers.
const (
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 60 * time.Second
	DefaultDeadline  = 600 * time.Second
)

// NewDefaultRetryConfig returns a RetryConfig with sensible defaults.
func NewDefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
		Deadline:  DefaultDeadline,
	}
}

// IsRateLimitError checks if an error indicates provider rate limiting.
// Matches 429 status codes and quota exhaustion messages across vendors.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "resource_exhausted") ||
		strings.Contains(errStr, "resource exhausted") ||
		strings.Contains(errStr, "quota")
}

// transientMarkers are the error fragments that indicate a retryable
// server or transport failure rather than a bad request.
var transientMarkers = []string{
	"500", "502", "503", "504",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"overloaded",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"temporarily unavailable",
}

// IsTransientError checks if an error indicates a transient server or
// network failure worth retrying with backoff.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// IsRetryableError groups the error classes the completion retry loop
// backs off on: rate limits and transient failures.
func IsRetryableError(err error) bool {
	return IsRateLimitError(err) || IsTransientError(err)
}

// tokenLimitMarkers are the provider messages that mean the prompt was
// too large rather than transiently refused. Such requests are retried
// once without retrieval context instead of backing off.
var tokenLimitMarkers = []string{
	"maximum context length",
	"token limit",
	"too many tokens",
	"context length exceeded",
}

// IsTokenLimitError checks if an error indicates the prompt exceeded the
// model's context window.
func IsTokenLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, marker := range tokenLimitMarkers {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// retryDelayRegex matches "Please retry in Xs", "retryDelay:Xs", and
// "Retry-After: X" patterns in provider error messages
var retryDelayRegex = regexp.MustCompile(`(?i)(?:please retry in |retrydelay[:\s]+|retry-after[:\s]+)(\d+(?:\.\d+)?)\s*s?`)

// ExtractRetryDelay parses the API-suggested retry delay from an error.
// Returns 0 if no delay is found in the error message.
func ExtractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}

	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}

	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}

// CalculateBackoff computes the wait for a given attempt. A server
// suggested delay takes precedence over the exponential schedule; the
// result is always capped at MaxDelay.
func (c *RetryConfig) CalculateBackoff(attempt int, apiDelay time.Duration) time.Duration {
	if apiDelay > 0 {
		if apiDelay > c.MaxDelay {
			return c.MaxDelay
		}
		return apiDelay
	}

	backoff := c.BaseDelay
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return backoff
}
