// Package translate implements the translation service: normalization with
// placeholder protection, glossary injection, a two-tier cache, and a
// streaming DeepSeek-backed API client with batched chunk flushing, rate
// limiting, and a per-error-kind retry schedule.
package translate

import "context"

// Chunk is a single fragment emitted by a streaming completion. A chunk may
// carry text, a finish signal, or both.
type Chunk struct {
	// Text is the incremental content of this chunk.
	Text string

	// FinishReason is set on the final chunk: "stop" for a natural end,
	// "error" when the stream failed mid-flight (Text then carries the error
	// message), "" for non-final chunks.
	FinishReason string

	// Usage is populated on the final chunk; zero otherwise. The DeepSeek
	// provider fills it with an estimate from character counts.
	Usage Usage
}

// CompletionRequest carries everything the model needs to translate one
// text.
type CompletionRequest struct {
	// SystemPrompt is the translation instruction, including any glossary
	// entries matched against the source text.
	SystemPrompt string

	// UserText is the normalized source text to translate.
	UserText string

	// Temperature controls output randomness; translation wants it low.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// Usage holds the token accounting returned by the model backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Provider is the abstraction over the translation model backend.
//
// Implementations must be safe for concurrent use. The channel returned by
// StreamCompletion is closed by the implementation when generation finishes
// or ctx is cancelled; errors occurring after the stream has started are
// surfaced as a Chunk with FinishReason "error". Callers must drain the
// channel.
type Provider interface {
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
