package query

import (
	"context"

	"github.com/Triyansha/newsletter-rag/internal/domain"
	"github.com/Triyansha/newsletter-rag/internal/domain/search/filter"
	"github.com/Triyansha/newsletter-rag/internal/domain/search/result"
	"github.com/Triyansha/newsletter-rag/internal/store"
)

// Searcher runs a vector similarity search against the store.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int, f filter.Filter) ([]result.Result, error)
}

// SourceReader exposes the stored sources for the source-scoped
// operations: summaries, related lookup, digests, topics.
type SourceReader interface {
	ListSources(ctx context.Context) ([]store.SourceInfo, error)
	SourceChunks(ctx context.Context, sourceID string) ([]domain.Chunk, error)
}
