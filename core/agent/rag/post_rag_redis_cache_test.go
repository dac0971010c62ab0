package rag

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"post_worker/pkg/cache"
)

func newRedisEmbeddingCache(t *testing.T) (*RedisEmbeddingCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := cache.NewRedisCache(client, "emb:")
	return NewRedisEmbeddingCache(store, time.Hour, zerolog.Nop()), mr
}

func TestRedisEmbeddingCache(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisEmbeddingCache(t)

	if _, ok := c.Get(ctx, "gate change"); ok {
		t.Fatal("expected a miss on an empty cache")
	}

	c.Set(ctx, "gate change", []float32{0.5, 0.25})
	got, ok := c.Get(ctx, "gate change")
	if !ok || len(got) != 2 || got[0] != 0.5 {
		t.Fatalf("Get() = %v, %v", got, ok)
	}
	if !mr.Exists("emb:" + HashText("gate change")) {
		t.Error("expected the prefixed hash key in redis")
	}

	mr.FastForward(2 * time.Hour)
	if _, ok := c.Get(ctx, "gate change"); ok {
		t.Error("entry should expire with the ttl")
	}
}

func TestRedisEmbeddingCacheFailuresAreMisses(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisEmbeddingCache(t)

	mr.Set("emb:"+HashText("broken"), "not json")
	if _, ok := c.Get(ctx, "broken"); ok {
		t.Error("undecodable values must read as misses")
	}

	mr.Close()
	c.Set(ctx, "koffer", []float32{1})
	if _, ok := c.Get(ctx, "koffer"); ok {
		t.Error("an unreachable redis must read as a miss")
	}
}

func TestTieredCachePromotesSharedHits(t *testing.T) {
	ctx := context.Background()
	shared, _ := newRedisEmbeddingCache(t)
	local := NewEmbeddingCache(10, time.Hour)

	shared.Set(ctx, "streik", []float32{0, 1})
	tiered := NewTieredCache(local, shared)

	if _, ok := tiered.Get(ctx, "streik"); !ok {
		t.Fatal("expected a hit from the shared level")
	}
	if _, ok := local.Get(ctx, "streik"); !ok {
		t.Error("shared hits should be copied into the local level")
	}

	if NewTieredCache(local, nil) != local {
		t.Error("a nil shared level should return the local cache")
	}
}
