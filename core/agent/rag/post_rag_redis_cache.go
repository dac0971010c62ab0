package rag

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"post_worker/pkg/cache"
)

// RedisEmbeddingCache keeps embeddings in Redis so they survive across runs.
// Redis errors are logged and treated as cache misses.
type RedisEmbeddingCache struct {
	store *cache.RedisCache
	ttl   time.Duration
	log   zerolog.Logger
}

func NewRedisEmbeddingCache(store *cache.RedisCache, ttl time.Duration, log zerolog.Logger) *RedisEmbeddingCache {
	return &RedisEmbeddingCache{store: store, ttl: ttl, log: log}
}

func (c *RedisEmbeddingCache) Get(ctx context.Context, text string) ([]float32, bool) {
	var vec []float32
	found, err := c.store.GetJSON(ctx, HashText(text), &vec)
	if err != nil {
		c.log.Warn().Err(err).Msg("embedding cache read failed")
		return nil, false
	}
	if !found || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (c *RedisEmbeddingCache) Set(ctx context.Context, text string, vector []float32) {
	if err := c.store.SetJSON(ctx, HashText(text), vector, c.ttl); err != nil {
		c.log.Warn().Err(err).Msg("embedding cache write failed")
	}
}
