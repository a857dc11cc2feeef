// Package store defines the vector store contract and its embedded
// (chromem) backend. The redis backend lives in the redis subpackage.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Triyansha/newsletter-rag/internal/domain"
	"github.com/Triyansha/newsletter-rag/internal/domain/search/filter"
	"github.com/Triyansha/newsletter-rag/internal/domain/search/result"
)

// Store persists chunks with their vectors and metadata. The sync
// orchestrator is the only writer; the query engine only searches.
type Store interface {
	// ReplaceSource atomically replaces all chunks for a source: existing
	// chunks are removed, the new set inserted. A concurrent Search never
	// observes a partial state for that source.
	ReplaceSource(ctx context.Context, sourceID string, chunks []domain.Chunk) error

	// DeleteSource removes all chunks for a source. No-op when absent.
	DeleteSource(ctx context.Context, sourceID string) error

	// Search returns the k highest-cosine-similarity chunks matching the
	// filter, ties broken by more recent source timestamp. Fewer than k
	// results and an empty result are both fine, never an error.
	Search(ctx context.Context, vector []float32, k int, f filter.Filter) ([]result.Result, error)

	// ListSources enumerates the stored sources, newest first.
	ListSources(ctx context.Context) ([]SourceInfo, error)

	// SourceChunks returns a source's chunks in index order, vectors
	// included. An unknown source yields an empty slice, not an error.
	SourceChunks(ctx context.Context, sourceID string) ([]domain.Chunk, error)

	// Stats reports the number of distinct sources and stored chunks.
	Stats(ctx context.Context) (Stats, error)

	// Ping checks backend availability.
	Ping(ctx context.Context) error

	Close() error
}

// Stats summarizes the store contents.
type Stats struct {
	Documents int
	Chunks    int
}

// SourceInfo describes one stored source.
type SourceInfo struct {
	SourceID  string
	Title     string
	Sender    string
	Timestamp time.Time
	Chunks    int
}

// SortSources orders sources newest first, source ID as the tie-break.
func SortSources(infos []SourceInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].Timestamp.Equal(infos[j].Timestamp) {
			return infos[i].Timestamp.After(infos[j].Timestamp)
		}
		return infos[i].SourceID < infos[j].SourceID
	})
}

// SortResults orders hits by descending score, recency as the tie-break.
func SortResults(results []result.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score() != results[j].Score() {
			return results[i].Score() > results[j].Score()
		}
		return results[i].Chunk().Timestamp.After(results[j].Chunk().Timestamp)
	})
}

// sourceLocks serializes writes per source identifier while letting
// writes to different sources proceed concurrently.
type sourceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSourceLocks() *sourceLocks {
	return &sourceLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for sourceID and returns its unlock func.
func (l *sourceLocks) acquire(sourceID string) func() {
	l.mu.Lock()
	m, ok := l.locks[sourceID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sourceID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
