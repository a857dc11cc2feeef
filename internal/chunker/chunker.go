// Package chunker splits normalized text into overlapping, identity-stable
// segments.
package chunker

import (
	"fmt"
	"time"
	"unicode"

	"github.com/Triyansha/newsletter-rag/internal/domain"
)

// Source carries the metadata stamped onto every chunk of one document.
type Source struct {
	ID        string
	Sender    string
	Title     string
	Timestamp time.Time
}

// Chunker produces chunks of at most size characters, consecutive chunks
// sharing overlap characters. Boundaries prefer paragraph and sentence
// breaks within tolerance characters of the hard limit, so mid-sentence
// cuts happen only when no break exists.
type Chunker struct {
	size      int
	overlap   int
	tolerance int
}

// New validates the parameters and creates a Chunker.
// overlap >= size is a configuration error, rejected up front.
func New(size, overlap, tolerance int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d: %w", size, domain.ErrInvalidConfig)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative, got %d: %w", overlap, domain.ErrInvalidConfig)
	}
	if overlap >= size {
		return nil, fmt.Errorf(
			"chunk overlap (%d) must be smaller than chunk size (%d): %w",
			overlap, size, domain.ErrInvalidConfig,
		)
	}
	if tolerance < 0 || tolerance >= size {
		tolerance = 0
	}
	return &Chunker{size: size, overlap: overlap, tolerance: tolerance}, nil
}

// Chunk splits text into ordered chunks covering the whole input. Sizes
// and offsets count runes, not bytes, so multibyte text never splits
// mid-character. Every chunk's text is the exact substring [Start,End),
// so concatenating chunk texts with overlaps removed reconstructs the
// input.
func (c *Chunker) Chunk(text string, src Source) []domain.Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []domain.Chunk
	start := 0
	for {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.boundary(runes, start, end)
		}

		chunks = append(chunks, domain.Chunk{
			ID:        domain.ChunkID(src.ID, start),
			SourceID:  src.ID,
			Index:     len(chunks),
			Start:     start,
			End:       end,
			Text:      string(runes[start:end]),
			Sender:    src.Sender,
			Title:     src.Title,
			Timestamp: src.Timestamp,
		})

		if end >= len(runes) {
			return chunks
		}
		start = end - c.overlap
	}
}

// boundary searches backward from the hard limit for a natural cut point.
// The cut never moves before start+overlap+1: the next chunk must advance.
func (c *Chunker) boundary(runes []rune, start, hard int) int {
	lo := hard - c.tolerance
	if min := start + c.overlap + 1; lo < min {
		lo = min
	}
	if lo >= hard {
		return hard
	}

	// Paragraph break: cut just after the blank line.
	for i := hard - 2; i >= lo; i-- {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			return i + 2
		}
	}

	// Sentence break: ender followed by whitespace, cut after both.
	for i := hard - 2; i >= lo; i-- {
		r := runes[i]
		if (r == '.' || r == '!' || r == '?') && unicode.IsSpace(runes[i+1]) {
			return i + 2
		}
	}

	// Word break.
	for i := hard - 1; i > lo; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}

	return hard
}
