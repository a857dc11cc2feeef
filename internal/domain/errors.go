package domain

import "errors"

var (
	// ErrExtraction signals that a message body could not be reduced to
	// usable plain text. The affected message is skipped, not fatal.
	ErrExtraction = errors.New("content extraction failed")
	// ErrEmbeddingUnavailable signals that the embedding provider failed
	// after exhausting retries. Retriable later.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	// ErrGenerationUnavailable signals that the answer generation provider
	// failed. Retriable later.
	ErrGenerationUnavailable = errors.New("generation provider unavailable")
	// ErrDimensionMismatch signals a vector whose length does not match the
	// store's fixed dimension. Configuration error, surfaced loudly.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrStoreUnavailable signals a persistence I/O failure.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrSourceNotFound signals a source-scoped operation on a source ID
	// that is not in the store.
	ErrSourceNotFound = errors.New("source not found")
	// ErrInvalidConfig signals a rejected configuration value.
	ErrInvalidConfig = errors.New("invalid configuration")
)
