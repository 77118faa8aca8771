// Package cached decorates any Embedder with a ristretto read-through
// cache. Embeddings are deterministic for a fixed model version, so caching
// by input text is safe, and it removes repeated model inference for the
// hot case of an agent asking near-identical queries within a session.
package cached

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/engram/memory"
)

// DefaultMaxEntries bounds the cache when the caller does not.
const DefaultMaxEntries = 4096

// Embedder wraps an inner Embedder with a cache keyed by input text.
type Embedder struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

// New wraps inner with a cache holding up to maxEntries embeddings.
// maxEntries <= 0 falls back to DefaultMaxEntries.
func New(inner memory.Embedder, maxEntries int64) (*Embedder, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10, // ristretto's recommended 10x ratio
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Embedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached embedding for text, or computes and caches it.
// A returned vector is shared with the cache and must not be mutated.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		if vec, ok := cached.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	// Each entry costs 1; MaxCost is therefore an entry count. Admission
	// is best-effort, a rejected set just means a future recompute.
	e.cache.Set(text, vec, 1)

	return vec, nil
}

// Dimensions returns the inner embedder's vector size.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close releases the cache's internal goroutines.
func (e *Embedder) Close() {
	e.cache.Close()
}
