package rag

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"post_worker/core/port/out"
	"post_worker/pkg/apperr"
	"post_worker/pkg/resilience"
)

// Embedder turns texts into vectors through the cache, a circuit breaker and
// the embedding provider. An authentication failure disables it for the rest
// of the process.
type Embedder struct {
	provider out.EmbeddingProvider
	cache    out.EmbeddingCache
	breaker  *resilience.CircuitBreaker
	log      zerolog.Logger

	disabled atomic.Bool
}

// BreakerConfig counts only service failures against the breaker. Auth and
// shape errors are not the service being unhealthy.
func BreakerConfig() *resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig("embeddings")
	cfg.IsSuccessful = func(err error) bool {
		return err == nil ||
			apperr.HasCode(err, apperr.CodeAuthFailed) ||
			apperr.HasCode(err, apperr.CodeMalformedResponse)
	}
	return cfg
}

// NewEmbedder returns a disabled embedder when provider is nil. cache and
// breaker are optional.
func NewEmbedder(provider out.EmbeddingProvider, cache out.EmbeddingCache, breaker *resilience.CircuitBreaker, log zerolog.Logger) *Embedder {
	e := &Embedder{provider: provider, cache: cache, breaker: breaker, log: log}
	if provider == nil {
		e.disabled.Store(true)
	}
	return e
}

// Enabled reports whether Vectors may call the provider.
func (e *Embedder) Enabled() bool {
	return !e.disabled.Load()
}

// Vectors embeds every distinct non-empty text once and returns the vectors
// keyed by text.
func (e *Embedder) Vectors(ctx context.Context, texts []string) (map[string][]float32, error) {
	if !e.Enabled() {
		return nil, apperr.New(apperr.CodeExternalError, "embeddings are disabled")
	}

	result := make(map[string][]float32, len(texts))
	var uncached []string
	seen := make(map[string]bool, len(texts))
	for _, text := range texts {
		if strings.TrimSpace(text) == "" || seen[text] {
			continue
		}
		seen[text] = true
		if e.cache != nil {
			if v, ok := e.cache.Get(ctx, text); ok {
				result[text] = v
				continue
			}
		}
		uncached = append(uncached, text)
	}

	if len(uncached) == 0 {
		return result, nil
	}

	vectors, err := e.embed(ctx, uncached)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeAuthFailed) {
			e.disabled.Store(true)
			e.log.Warn().Err(err).Msg("embeddings disabled after authentication failure")
		}
		return nil, err
	}
	if len(vectors) != len(uncached) {
		return nil, apperr.MalformedResponse("embeddings",
			fmt.Sprintf("got %d vectors for %d inputs", len(vectors), len(uncached)))
	}

	for i, text := range uncached {
		if len(vectors[i]) == 0 {
			return nil, apperr.MalformedResponse("embeddings", fmt.Sprintf("empty vector at index %d", i))
		}
		result[text] = vectors[i]
		if e.cache != nil {
			e.cache.Set(ctx, text, vectors[i])
		}
	}
	return result, nil
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.breaker == nil {
		return e.provider.EmbedBatch(ctx, texts)
	}
	var vectors [][]float32
	err := e.breaker.Execute(func() error {
		var err error
		vectors, err = e.provider.EmbedBatch(ctx, texts)
		return err
	})
	return vectors, err
}
