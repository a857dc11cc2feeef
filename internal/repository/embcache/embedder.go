// Package embcache caches embeddings in-process so re-syncing unchanged
// content does not burn provider tokens.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Triyansha/newsletter-rag/internal/domain"
	"github.com/Triyansha/newsletter-rag/internal/metrics"
)

// CachedEmbedder is an LRU caching decorator over a batch embedder.
// Cache hits report zero token usage: no real tokens were consumed.
type CachedEmbedder struct {
	inner  domain.BatchEmbedder
	cache  *lru.Cache[string, []float32]
	logger *zap.Logger
}

// New creates a caching decorator holding up to size embeddings.
func New(inner domain.BatchEmbedder, size int, logger *zap.Logger) (*CachedEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{inner: inner, cache: cache, logger: logger}, nil
}

// Embed returns a cached embedding or delegates to the inner embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := c.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:   res.Embeddings[0],
		TotalTokens: res.TotalTokens,
	}, nil
}

// BatchEmbed serves what it can from the cache and embeds only the misses
// in a single inner call, preserving input order.
func (c *CachedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}

	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if vec, ok := c.cache.Get(cacheKey(text)); ok {
			metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
			out.Embeddings[i] = vec
			continue
		}
		metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	res, err := c.inner.BatchEmbed(ctx, missTexts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	if len(res.Embeddings) != len(missTexts) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf(
			"inner embedder returned %d vectors for %d texts", len(res.Embeddings), len(missTexts),
		)
	}

	for j, i := range missIdx {
		out.Embeddings[i] = res.Embeddings[j]
		c.cache.Add(cacheKey(texts[i]), res.Embeddings[j])
	}
	out.TotalTokens = res.TotalTokens

	return out, nil
}

// cacheKey hashes the text: embeddings of long chunks should not pin the
// chunk text itself in memory twice.
func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
