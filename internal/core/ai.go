package core

import "context"

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMProvider generates grounded answers. GenerateStream calls onFragment
// once per incremental text fragment, in order; returning an error from
// onFragment stops the stream and is returned as is.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
	GenerateStream(ctx context.Context, systemPrompt string, userPrompt string, onFragment func(string) error) error
}
