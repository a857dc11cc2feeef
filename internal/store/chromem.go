package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/Triyansha/newsletter-rag/internal/domain"
	"github.com/Triyansha/newsletter-rag/internal/domain/search/filter"
	"github.com/Triyansha/newsletter-rag/internal/domain/search/result"
)

const (
	chromemCollection = "newsletters"
	manifestFile      = "sources.json"
)

// ChromemConfig holds the embedded backend settings.
type ChromemConfig struct {
	// Path is the persistence directory. Empty means in-memory only,
	// which is useful for tests.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// Dimensions is the expected vector dimension. Writes and searches
	// with a different dimension are rejected.
	Dimensions int
}

// ChromemStore is the embedded vector store backend built on chromem-go.
// chromem has no source grouping of its own, so the store keeps a
// manifest of chunk IDs per source; the manifest also makes replacement
// precise after a restart.
type ChromemStore struct {
	db         *chromem.DB
	col        *chromem.Collection
	dimensions int
	path       string
	logger     *zap.Logger

	// mu guards searches against replacements in flight: Search holds the
	// read half, ReplaceSource and DeleteSource the write half. writeLocks
	// additionally serializes writers touching the same source.
	mu         sync.RWMutex
	writeLocks *sourceLocks

	manifestMu sync.Mutex
	sources    map[string]manifestEntry
}

// manifestEntry records one source in the sidecar manifest: its chunk IDs
// plus enough metadata to list sources without touching the collection.
type manifestEntry struct {
	Title     string   `json:"title"`
	Sender    string   `json:"sender"`
	Timestamp int64    `json:"ts"`
	ChunkIDs  []string `json:"chunk_ids"`
}

// NewChromemStore opens (or creates) an embedded store at cfg.Path.
func NewChromemStore(cfg ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", domain.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err = os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w: %w", domain.ErrStoreUnavailable, err)
		}
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w: %w", domain.ErrStoreUnavailable, err)
		}
	}

	// Embeddings always arrive precomputed, so the embedding func must
	// never run. Passing nil would make chromem install its own default.
	col, err := db.GetOrCreateCollection(chromemCollection, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w: %w", domain.ErrStoreUnavailable, err)
	}

	s := &ChromemStore{
		db:         db,
		col:        col,
		dimensions: cfg.Dimensions,
		path:       cfg.Path,
		logger:     logger,
		writeLocks: newSourceLocks(),
		sources:    make(map[string]manifestEntry),
	}
	if err := s.loadManifest(); err != nil {
		return nil, err
	}

	logger.Info("chromem store opened",
		zap.String("path", cfg.Path),
		zap.Int("dimensions", cfg.Dimensions),
		zap.Int("sources", len(s.sources)),
		zap.Int("chunks", col.Count()),
	)
	return s, nil
}

func rejectEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("store received a document without an embedding")
}

// ReplaceSource implements Store.
func (s *ChromemStore) ReplaceSource(ctx context.Context, sourceID string, chunks []domain.Chunk) error {
	for _, c := range chunks {
		if len(c.Vector) != s.dimensions {
			return fmt.Errorf("chunk %s: %w: got %d, want %d",
				c.ID, domain.ErrDimensionMismatch, len(c.Vector), s.dimensions)
		}
	}

	unlock := s.writeLocks.acquire(sourceID)
	defer unlock()

	docs := make([]chromem.Document, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Text,
			Embedding: c.Vector,
			Metadata: map[string]string{
				"source_id": c.SourceID,
				"sender":    c.Sender,
				"title":     c.Title,
				"ts":        strconv.FormatInt(c.Timestamp.Unix(), 10),
				"idx":       strconv.Itoa(c.Index),
				"start":     strconv.Itoa(c.Start),
				"end":       strconv.Itoa(c.End),
			},
		}
		ids[i] = c.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteSourceLocked(ctx, sourceID); err != nil {
		return err
	}
	if len(docs) > 0 {
		if err := s.col.AddDocuments(ctx, docs, 1); err != nil {
			return fmt.Errorf("add chunks for %s: %w: %w", sourceID, domain.ErrStoreUnavailable, err)
		}
	}

	entry := &manifestEntry{ChunkIDs: ids}
	if len(chunks) > 0 {
		entry.Title = chunks[0].Title
		entry.Sender = chunks[0].Sender
		entry.Timestamp = chunks[0].Timestamp.Unix()
	}
	return s.setManifest(sourceID, entry)
}

// DeleteSource implements Store.
func (s *ChromemStore) DeleteSource(ctx context.Context, sourceID string) error {
	unlock := s.writeLocks.acquire(sourceID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteSourceLocked(ctx, sourceID); err != nil {
		return err
	}
	return s.setManifest(sourceID, nil)
}

func (s *ChromemStore) deleteSourceLocked(ctx context.Context, sourceID string) error {
	s.manifestMu.Lock()
	known := len(s.sources[sourceID].ChunkIDs) > 0
	s.manifestMu.Unlock()
	if !known && s.col.Count() == 0 {
		return nil
	}
	where := map[string]string{"source_id": sourceID}
	if err := s.col.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("delete chunks for %s: %w: %w", sourceID, domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Search implements Store. The sender filter is applied natively; date
// ranges are filtered after the vector query because chromem metadata
// filters support equality only.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, k int, f filter.Filter) ([]result.Result, error) {
	if len(vector) != s.dimensions {
		return nil, fmt.Errorf("query vector: %w: got %d, want %d",
			domain.ErrDimensionMismatch, len(vector), s.dimensions)
	}
	if k <= 0 {
		return []result.Result{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.col.Count()
	if count == 0 {
		return []result.Result{}, nil
	}

	var where map[string]string
	if f.Sender() != "" {
		where = map[string]string{"sender": f.Sender()}
	}

	// A date range narrows the set after the vector query, so fetch the
	// whole candidate set in that case. Personal archives stay small
	// enough for this to be cheap.
	n := k
	if f.HasDateRange() || n > count {
		n = count
	}

	hits, err := s.col.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w: %w", domain.ErrStoreUnavailable, err)
	}

	results := make([]result.Result, 0, len(hits))
	for _, h := range hits {
		chunk := chunkFromDocument(h.ID, h.Content, h.Metadata, h.Embedding)
		if !f.Matches(chunk.Sender, chunk.Timestamp) {
			continue
		}
		results = append(results, result.New(chunk, float64(h.Similarity)))
	}

	SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// ListSources implements Store, served entirely from the manifest.
func (s *ChromemStore) ListSources(_ context.Context) ([]SourceInfo, error) {
	s.manifestMu.Lock()
	infos := make([]SourceInfo, 0, len(s.sources))
	for id, e := range s.sources {
		infos = append(infos, SourceInfo{
			SourceID:  id,
			Title:     e.Title,
			Sender:    e.Sender,
			Timestamp: time.Unix(e.Timestamp, 0).UTC(),
			Chunks:    len(e.ChunkIDs),
		})
	}
	s.manifestMu.Unlock()

	SortSources(infos)
	return infos, nil
}

// SourceChunks implements Store. chromem has no metadata lookup, so the
// manifest supplies the chunk IDs and each document is fetched by ID.
func (s *ChromemStore) SourceChunks(ctx context.Context, sourceID string) ([]domain.Chunk, error) {
	s.manifestMu.Lock()
	ids := append([]string(nil), s.sources[sourceID].ChunkIDs...)
	s.manifestMu.Unlock()

	if len(ids) == 0 {
		return []domain.Chunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		doc, err := s.col.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get chunk %s: %w: %w", id, domain.ErrStoreUnavailable, err)
		}
		chunks = append(chunks, chunkFromDocument(doc.ID, doc.Content, doc.Metadata, doc.Embedding))
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// Stats implements Store.
func (s *ChromemStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	chunks := s.col.Count()
	s.mu.RUnlock()

	s.manifestMu.Lock()
	docs := len(s.sources)
	s.manifestMu.Unlock()

	return Stats{Documents: docs, Chunks: chunks}, nil
}

// Ping implements Store. The embedded backend is available as long as
// the collection handle exists.
func (s *ChromemStore) Ping(_ context.Context) error {
	if s.col == nil {
		return domain.ErrStoreUnavailable
	}
	return nil
}

// Close implements Store. chromem persists on every write, so closing
// only flushes the manifest.
func (s *ChromemStore) Close() error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()
	return s.saveManifestLocked()
}

func chunkFromDocument(id, content string, meta map[string]string, embedding []float32) domain.Chunk {
	idx, _ := strconv.Atoi(meta["idx"])
	start, _ := strconv.Atoi(meta["start"])
	end, _ := strconv.Atoi(meta["end"])
	ts, _ := strconv.ParseInt(meta["ts"], 10, 64)

	return domain.Chunk{
		ID:        id,
		SourceID:  meta["source_id"],
		Index:     idx,
		Start:     start,
		End:       end,
		Text:      content,
		Vector:    embedding,
		Sender:    meta["sender"],
		Title:     meta["title"],
		Timestamp: time.Unix(ts, 0).UTC(),
	}
}

// setManifest records a source's manifest entry (nil or an empty chunk
// list removes the source) and persists the manifest.
func (s *ChromemStore) setManifest(sourceID string, entry *manifestEntry) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	if entry == nil || len(entry.ChunkIDs) == 0 {
		delete(s.sources, sourceID)
	} else {
		s.sources[sourceID] = *entry
	}
	return s.saveManifestLocked()
}

func (s *ChromemStore) loadManifest() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(s.path, manifestFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read manifest: %w: %w", domain.ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal(data, &s.sources); err != nil {
		return fmt.Errorf("parse manifest: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *ChromemStore) saveManifestLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.sources, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	// Write-and-rename keeps the manifest whole if the process dies
	// mid-write.
	tmp := filepath.Join(s.path, manifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w: %w", domain.ErrStoreUnavailable, err)
	}
	if err := os.Rename(tmp, filepath.Join(s.path, manifestFile)); err != nil {
		return fmt.Errorf("replace manifest: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

var _ Store = (*ChromemStore)(nil)
