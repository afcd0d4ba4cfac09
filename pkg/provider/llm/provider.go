// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4,
// Anthropic Claude, or a local Ollama instance) and exposes a uniform interface
// for the pipeline to perform completions without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import "context"

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion starts a streaming completion and returns a channel of
	// incremental chunks. The channel is closed when generation finishes, the
	// context is cancelled, or the provider fails mid-stream; mid-stream
	// failures are delivered on the error channel before both close.
	//
	// Returns a non-nil error only if the stream cannot be started.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, <-chan error, error)

	// Complete performs a blocking, non-streaming completion and returns the
	// full response.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
