package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for error classification.
var (
	// ErrGeneration indicates a non-recoverable provider failure. It is
	// not retried by the adapter.
	ErrGeneration = errors.New("llm: generation failed")

	// ErrRateLimited matches every rate-limit flavored error via
	// errors.Is, recoverable or terminal.
	ErrRateLimited = errors.New("llm: rate limited")
)

// Metadata accompanies a generation call for provider-side attribution.
type Metadata struct {
	SessionID string
	JobID     string
	Attempt   int
}

// Provider is the external structured-generation collaborator. The raw
// return value is handed to package candidate for extraction; it may be a
// decoded JSON object or a stringified one.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return ctx.Err() when canceled.
// - Errors: rate-limit conditions must surface as *RateLimitError (or at
//   least carry a recognizable message); everything else is terminal.
type Provider interface {
	GenerateStructuredOutput(ctx context.Context, prompt string, meta Metadata) (any, error)
}

// RateLimitError is a rate-limit signal from the provider. RetryAfter is a
// hint and may be zero.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration

	// Terminal is set by the adapter once its retry budget is exhausted.
	Terminal bool
}

// Error returns the rate-limit message.
func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return "rate limited"
	}
	return e.Message
}

// Is reports whether this error matches ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterMs returns the hint in milliseconds.
func (e *RateLimitError) RetryAfterMs() int64 {
	return e.RetryAfter.Milliseconds()
}

// rateLimitPhrases are the message-text heuristics used when a provider
// reports rate limiting without a typed error or status.
var rateLimitPhrases = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"429",
	"quota exceeded",
	"overloaded",
}

// IsRateLimit reports whether err is a rate-limit signal, detected via the
// typed error, the sentinel, or message-text heuristics.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// wrapGeneration wraps a terminal provider failure.
func wrapGeneration(err error) error {
	return fmt.Errorf("%w: %v", ErrGeneration, err)
}
