package ingest

import (
	"context"

	"github.com/Triyansha/newsletter-rag/internal/chunker"
	"github.com/Triyansha/newsletter-rag/internal/classify"
	"github.com/Triyansha/newsletter-rag/internal/domain"
	"github.com/Triyansha/newsletter-rag/internal/normalize"
)

// Classifier decides whether a message is newsletter content.
type Classifier interface {
	Classify(msg *domain.RawMessage) classify.Decision
}

// Normalizer reduces a raw message to clean plain text.
type Normalizer interface {
	Normalize(msg *domain.RawMessage) (normalize.Document, error)
}

// Chunker splits normalized text into overlapping chunks.
type Chunker interface {
	Chunk(text string, src chunker.Source) []domain.Chunk
}

// ChunkWriter persists the full chunk set for a source.
type ChunkWriter interface {
	ReplaceSource(ctx context.Context, sourceID string, chunks []domain.Chunk) error
}
