// Package result defines the output shape of a similarity search.
package result

import "github.com/Triyansha/newsletter-rag/internal/domain"

// Result is a single search hit: a stored chunk and its similarity score.
type Result struct {
	chunk domain.Chunk
	score float64
}

// New creates a search result.
func New(chunk domain.Chunk, score float64) Result {
	return Result{chunk: chunk, score: score}
}

// Chunk returns the matched chunk.
func (r *Result) Chunk() domain.Chunk { return r.chunk }

// Score returns the cosine similarity in [0,1].
func (r *Result) Score() float64 { return r.score }
