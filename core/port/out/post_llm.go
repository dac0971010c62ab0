package out

import (
	"context"
)

// GenerationRequest is one call to the text generation service.
type GenerationRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}

// TextGenerator is the generation service. Errors carry apperr codes:
// RATE_LIMITED, OVERSIZED_REQUEST, TRANSPORT_ERROR, AUTH_FAILED or
// EXTERNAL_ERROR.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// EmbeddingProvider returns one vector per input, in input order. Errors
// carry AUTH_FAILED, MALFORMED_RESPONSE or a service error code.
type EmbeddingProvider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingCache stores vectors by text.
type EmbeddingCache interface {
	Get(ctx context.Context, text string) ([]float32, bool)
	Set(ctx context.Context, text string, vector []float32)
}
