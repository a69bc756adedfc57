package translate

import (
	"context"
	"fmt"
	"os"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
)

// EnvAPIKey is the environment variable holding the DeepSeek API key. When
// it is absent the translation pipeline is disabled at startup; the wake/UI
// paths keep working.
const EnvAPIKey = "DEEPSEEK_API_KEY"

// DefaultModel is the DeepSeek model used for translation.
const DefaultModel = "deepseek-chat"

// DeepSeek implements [Provider] by wrapping the any-llm-go DeepSeek
// backend.
type DeepSeek struct {
	backend anyllmlib.Provider
	model   string
}

// NewDeepSeek creates a DeepSeek provider from the DEEPSEEK_API_KEY
// environment variable. It returns an error when the key is absent so the
// caller can disable the pipeline with a warning instead of failing later on
// the first request.
func NewDeepSeek(model string) (*DeepSeek, error) {
	key := os.Getenv(EnvAPIKey)
	if key == "" {
		return nil, fmt.Errorf("deepseek: %s is not set", EnvAPIKey)
	}
	if model == "" {
		model = DefaultModel
	}
	backend, err := deepseek.New(anyllmlib.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("deepseek: create backend: %w", err)
	}
	return &DeepSeek{backend: backend, model: model}, nil
}

// StreamCompletion implements [Provider].
func (d *DeepSeek) StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error) {
	messages := []anyllmlib.Message{
		{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt},
		{Role: anyllmlib.RoleUser, Content: req.UserText},
	}

	params := anyllmlib.CompletionParams{
		Model:    d.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}

	backendChunks, backendErrs := d.backend.CompletionStream(ctx, params)

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)

		var completionChars int
		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			completionChars += len(choice.Delta.Content)

			out := Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if out.FinishReason != "" {
				out.Usage = Usage{
					PromptTokens:     estimateTokens(len(req.SystemPrompt) + len(req.UserText)),
					CompletionTokens: estimateTokens(completionChars),
				}
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		// Surface backend errors after the chunk channel drains.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// estimateTokens approximates a token count from a character count. ~4 chars
// per token is a rough approximation for most models; the streaming API does
// not report exact usage per chunk.
func estimateTokens(chars int) int {
	return (chars + 3) / 4
}
