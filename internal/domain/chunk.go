package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Chunk is a slice of normalized newsletter text with its embedding and
// the source metadata carried along for citations.
type Chunk struct {
	// ID is derived from the source and the chunk's start offset, so
	// re-ingesting unchanged content yields the same IDs.
	ID string

	SourceID string

	// Index is the zero-based position of the chunk within its source.
	Index int

	// Start and End are rune offsets into the normalized text,
	// End exclusive.
	Start int
	End   int

	Text   string
	Vector []float32

	Sender    string
	Title     string
	Timestamp time.Time
}

// ChunkID derives the deterministic chunk identifier.
func ChunkID(sourceID string, start int) string {
	sum := sha256.Sum256([]byte(sourceID + ":" + strconv.Itoa(start)))
	return hex.EncodeToString(sum[:])[:16]
}
