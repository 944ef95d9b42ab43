package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings kept in memory.
// At 768 dimensions × 4 bytes × 2048 entries ≈ 6 MB.
const DefaultCacheSize = 2048

// CachedProvider wraps a Provider with an LRU cache keyed by
// (domain, sha256(text)), so repeated chunks and repeated queries skip
// the model entirely.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCachedProvider creates a cached provider wrapping inner.
func NewCachedProvider(inner Provider, cacheSize int) *CachedProvider {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedProvider{inner: inner, cache: cache}
}

// cacheKey builds the (domain, hash(text)) key.
func (c *CachedProvider) cacheKey(domain Domain, text string) string {
	hash := sha256.Sum256([]byte(text))
	return string(domain) + ":" + hex.EncodeToString(hash[:])
}

// Embed returns cached vectors where available and batches the rest
// through the inner provider.
func (c *CachedProvider) Embed(ctx context.Context, domain Domain, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(domain, text)); ok {
			results[i] = vec
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.Embed(ctx, domain, uncachedTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range uncachedIndices {
		results[idx] = fresh[j]
		c.cache.Add(c.cacheKey(domain, texts[idx]), fresh[j])
	}

	return results, nil
}

// Dimensions returns the inner provider's dimension.
func (c *CachedProvider) Dimensions() int {
	return c.inner.Dimensions()
}

// Close closes the inner provider.
func (c *CachedProvider) Close() error {
	return c.inner.Close()
}
