// Package llm provides an OpenRouter-compatible chat client for answer
// extraction.
//
// This package is used by the extraction stage to pull answers to a
// template's question set out of a diarized interview transcript.
//
// # Configuration
//
// Requires api_key, model, and optionally base_url, temperature, timeout.
//
// # Entry Points
//
// New: construct client from configuration.
// Client.CompleteJSON: send system/user prompts, receive JSON content plus
// the provider's reported token usage.
// Client.HealthCheck: verify API key and model availability.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors and network timeouts with
// exponential backoff (base 1s, max 10s, up to 5 attempts by default).
// Context cancellation aborts retries immediately.
//
// # Fallback
//
// Models occasionally wrap JSON in code fences or prose; DecodeLLMJSON
// tolerates both. When the payload still cannot be parsed the extraction
// stage stores the raw text instead of failing the task.
package llm
