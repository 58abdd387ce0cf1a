// Package cache provides the bounded in-memory query embedding cache.
package cache

import (
	"context"
	"strings"
	"sync"
)

const (
	// DefaultMaxEntries bounds the number of cached query embeddings.
	DefaultMaxEntries = 100
	// keyPrefixLen is the number of leading runes of the normalized query
	// used as the cache key. Queries that differ only past the prefix
	// collide intentionally.
	keyPrefixLen = 200
)

// ComputeFunc produces an embedding for the given text on a cache miss.
type ComputeFunc func(ctx context.Context, text string) ([]float32, error)

// EmbeddingCache maps normalized query text to its embedding. Entries are
// evicted strictly oldest-inserted-first once the capacity is exceeded;
// lookups do not refresh an entry's age. The cache lives for the process
// lifetime and is never persisted or invalidated.
type EmbeddingCache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string][]float32
	order      []string
}

// NewEmbeddingCache creates an empty cache holding at most maxEntries
// embeddings. A non-positive maxEntries falls back to DefaultMaxEntries.
func NewEmbeddingCache(maxEntries int) *EmbeddingCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &EmbeddingCache{
		maxEntries: maxEntries,
		entries:    make(map[string][]float32),
	}
}

// GetOrCompute returns the cached embedding for text, invoking compute on a
// miss and storing the result. The whole check/compute/insert sequence runs
// under one mutex so concurrent requests cannot lose an update or grow the
// cache past its bound. A failed compute leaves the cache unchanged.
func (c *EmbeddingCache) GetOrCompute(ctx context.Context, text string, compute ComputeFunc) ([]float32, error) {
	key := cacheKey(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if embedding, ok := c.entries[key]; ok {
		return embedding, nil
	}

	embedding, err := compute(ctx, text)
	if err != nil {
		return nil, err
	}

	c.entries[key] = embedding
	c.order = append(c.order, key)

	if len(c.entries) > c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	return embedding, nil
}

// Len returns the current number of cached entries.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether a query is currently cached.
func (c *EmbeddingCache) Contains(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[cacheKey(text)]
	return ok
}

func cacheKey(text string) string {
	key := strings.ToLower(strings.TrimSpace(text))
	runes := []rune(key)
	if len(runes) > keyPrefixLen {
		return string(runes[:keyPrefixLen])
	}
	return key
}
