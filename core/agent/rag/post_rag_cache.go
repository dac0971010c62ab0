// Package rag embeds post texts and compares them. It backs the similarity
// deduplication stage.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"post_worker/core/port/out"
)

// Local cache defaults: a schedule-mode process keeps about a day of
// history and candidate vectors.
const (
	DefaultCacheSize = 10000
	DefaultCacheTTL  = 24 * time.Hour
)

// HashText is the cache key of a text.
func HashText(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:16])
}

// EmbeddingCache keeps vectors in process memory. Entries expire after ttl
// and the oldest insert is evicted once size is reached. Expired entries are
// dropped when they are looked up or pushed out, so no goroutine is needed.
type EmbeddingCache struct {
	mu      sync.Mutex
	entries map[string]vectorEntry
	order   []orderKey
	seq     uint64
	size    int
	ttl     time.Duration
	now     func() time.Time
}

type vectorEntry struct {
	vector  []float32
	expires time.Time
	seq     uint64
}

// orderKey is one insert; it is stale once the entry was replaced.
type orderKey struct {
	key string
	seq uint64
}

// NewEmbeddingCache returns a cache holding at most size vectors for ttl.
// Zero size or ttl means unbounded.
func NewEmbeddingCache(size int, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{
		entries: make(map[string]vectorEntry),
		size:    size,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *EmbeddingCache) Get(_ context.Context, text string) ([]float32, bool) {
	key := HashText(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.vector, true
}

func (c *EmbeddingCache) Set(_ context.Context, text string, vector []float32) {
	key := HashText(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	e := vectorEntry{vector: vector, seq: c.seq}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.entries[key] = e
	c.order = append(c.order, orderKey{key: key, seq: c.seq})

	for c.size > 0 && len(c.entries) > c.size {
		c.popOldest()
	}
	if len(c.order) > 2*len(c.entries)+64 {
		c.compact()
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *EmbeddingCache) popOldest() {
	for len(c.order) > 0 {
		k := c.order[0]
		c.order = c.order[1:]
		if e, ok := c.entries[k.key]; ok && e.seq == k.seq {
			delete(c.entries, k.key)
			return
		}
	}
}

// compact drops order slots of replaced or evicted entries.
func (c *EmbeddingCache) compact() {
	live := c.order[:0]
	for _, k := range c.order {
		if e, ok := c.entries[k.key]; ok && e.seq == k.seq {
			live = append(live, k)
		}
	}
	c.order = live
}

// =============================================================================
// Tiered Cache
// =============================================================================

// TieredCache reads through a local cache to a shared second level. Hits in
// the second level are copied into the first.
type TieredCache struct {
	local  out.EmbeddingCache
	shared out.EmbeddingCache
}

// NewTieredCache returns local alone when shared is nil.
func NewTieredCache(local, shared out.EmbeddingCache) out.EmbeddingCache {
	if shared == nil {
		return local
	}
	return &TieredCache{local: local, shared: shared}
}

func (t *TieredCache) Get(ctx context.Context, text string) ([]float32, bool) {
	if v, ok := t.local.Get(ctx, text); ok {
		return v, true
	}
	v, ok := t.shared.Get(ctx, text)
	if ok {
		t.local.Set(ctx, text, v)
	}
	return v, ok
}

func (t *TieredCache) Set(ctx context.Context, text string, vector []float32) {
	t.local.Set(ctx, text, vector)
	t.shared.Set(ctx, text, vector)
}
