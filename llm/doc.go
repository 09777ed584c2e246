// Package llm wraps the structured-generation collaborator behind a small
// Provider interface and a retrying Adapter.
//
// The Adapter retries only rate-limit failures, following a fixed backoff
// schedule plus one outer recovery cycle; once exhausted it surfaces a
// terminal [RateLimitError] carrying a retry-after hint. Every other
// provider failure is wrapped in [ErrGeneration] and surfaced immediately —
// the repair loop, not the adapter, decides what happens next.
//
// [HTTPProvider] speaks an OpenAI-compatible chat-completions API and maps
// HTTP 429 responses into the rate-limit taxonomy.
package llm
