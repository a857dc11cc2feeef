// Package redis implements the vector store on Redis 8+ with RediSearch,
// chunks stored as hashes behind an HNSW FT index.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/Triyansha/newsletter-rag/internal/domain"
	"github.com/Triyansha/newsletter-rag/internal/store"
)

var _ store.Store = (*Store)(nil)

// Config holds connection and index parameters.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int

	// KeyPrefix namespaces every key and the index name.
	KeyPrefix string

	// Dimensions is the vector dimension of the HNSW index.
	Dimensions int

	// HNSW build parameters. Zero means server default.
	HNSWM           int
	HNSWEFConstruct int
}

// Store implements store.Store via rueidis.
type Store struct {
	client     rueidis.Client
	prefix     string
	dimensions int
	logger     *zap.Logger

	// writeLocks serializes ReplaceSource/DeleteSource per source within
	// this process. Cross-process writers are not coordinated; the
	// MULTI/EXEC replace still keeps readers from seeing partial state.
	muLocks    sync.Mutex
	writeLocks map[string]*sync.Mutex
}

// NewStore connects to Redis and ensures the chunk index exists.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("%w: redis addrs is required", domain.ErrInvalidConfig)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", domain.ErrInvalidConfig)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "newsrag:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH result parsing expects RESP2 array format
	})
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w: %w", domain.ErrStoreUnavailable, err)
	}

	s := &Store{
		client:     client,
		prefix:     cfg.KeyPrefix,
		dimensions: cfg.Dimensions,
		logger:     logger,
		writeLocks: make(map[string]*sync.Mutex),
	}

	if err := s.ensureIndex(ctx, cfg); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("redis store connected",
		zap.Strings("addrs", cfg.Addrs),
		zap.String("prefix", cfg.KeyPrefix),
		zap.Int("dimensions", cfg.Dimensions),
	)
	return s, nil
}

func (s *Store) indexName() string { return s.prefix + "chunks-idx" }

func (s *Store) chunkKeyPrefix() string { return s.prefix + "chunk:" }

func (s *Store) chunkKey(id string) string { return s.chunkKeyPrefix() + id }

func (s *Store) sourceKey(id string) string { return s.prefix + "src:" + id }

// ensureIndex creates the FT index if absent.
func (s *Store) ensureIndex(ctx context.Context, cfg Config) error {
	vectorAttrs := []string{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(cfg.Dimensions),
		"DISTANCE_METRIC", "COSINE",
	}
	if cfg.HNSWM > 0 {
		vectorAttrs = append(vectorAttrs, "M", strconv.Itoa(cfg.HNSWM))
	}
	if cfg.HNSWEFConstruct > 0 {
		vectorAttrs = append(vectorAttrs, "EF_CONSTRUCTION", strconv.Itoa(cfg.HNSWEFConstruct))
	}

	args := []string{
		s.indexName(),
		"ON", "HASH",
		"PREFIX", "1", s.chunkKeyPrefix(),
		"SCHEMA",
		"source_id", "TAG",
		"sender", "TAG",
		"ts", "NUMERIC",
		"vector", "VECTOR", "HNSW", strconv.Itoa(len(vectorAttrs)),
	}
	args = append(args, vectorAttrs...)

	cmd := s.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return fmt.Errorf("create index: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// ReplaceSource implements store.Store. The delete of the old chunk set
// and the insert of the new one run inside MULTI/EXEC, so a concurrent
// search sees either the old or the new chunks, never a mix.
func (s *Store) ReplaceSource(ctx context.Context, sourceID string, chunks []domain.Chunk) error {
	for _, c := range chunks {
		if len(c.Vector) != s.dimensions {
			return fmt.Errorf("chunk %s: %w: got %d, want %d",
				c.ID, domain.ErrDimensionMismatch, len(c.Vector), s.dimensions)
		}
	}

	unlock := s.lockSource(sourceID)
	defer unlock()

	oldKeys, err := s.sourceChunkKeys(ctx, sourceID)
	if err != nil {
		return err
	}

	cmds := make([]rueidis.Completed, 0, len(chunks)+5)
	cmds = append(cmds, s.b().Multi().Build())
	if len(oldKeys) > 0 {
		cmds = append(cmds, s.b().Del().Key(oldKeys...).Build())
	}
	cmds = append(cmds, s.b().Del().Key(s.sourceKey(sourceID)).Build())

	newKeys := make([]string, 0, len(chunks))
	for _, c := range chunks {
		key := s.chunkKey(c.ID)
		newKeys = append(newKeys, key)

		hset := s.b().Hset().Key(key).FieldValue().
			FieldValue("source_id", c.SourceID).
			FieldValue("sender", c.Sender).
			FieldValue("title", c.Title).
			FieldValue("ts", strconv.FormatInt(c.Timestamp.Unix(), 10)).
			FieldValue("idx", strconv.Itoa(c.Index)).
			FieldValue("start", strconv.Itoa(c.Start)).
			FieldValue("end", strconv.Itoa(c.End)).
			FieldValue("text", c.Text).
			FieldValue("vector", vectorToBytes(c.Vector))
		cmds = append(cmds, hset.Build())
	}
	if len(newKeys) > 0 {
		cmds = append(cmds, s.b().Sadd().Key(s.sourceKey(sourceID)).Member(newKeys...).Build())
	}
	cmds = append(cmds, s.b().Exec().Build())

	results := s.client.DoMulti(ctx, cmds...)
	for _, res := range results {
		if err := res.Error(); err != nil {
			return fmt.Errorf("replace source %s: %w: %w", sourceID, domain.ErrStoreUnavailable, err)
		}
	}
	return nil
}

// DeleteSource implements store.Store.
func (s *Store) DeleteSource(ctx context.Context, sourceID string) error {
	unlock := s.lockSource(sourceID)
	defer unlock()

	keys, err := s.sourceChunkKeys(ctx, sourceID)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	cmds := []rueidis.Completed{
		s.b().Multi().Build(),
		s.b().Del().Key(keys...).Build(),
		s.b().Del().Key(s.sourceKey(sourceID)).Build(),
		s.b().Exec().Build(),
	}
	for _, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("delete source %s: %w: %w", sourceID, domain.ErrStoreUnavailable, err)
		}
	}
	return nil
}

// ListSources implements store.Store by scanning the per-source
// membership sets; metadata comes from each source's first chunk hash.
func (s *Store) ListSources(ctx context.Context) ([]store.SourceInfo, error) {
	setKeys, err := s.scan(ctx, s.prefix+"src:*")
	if err != nil {
		return nil, err
	}

	infos := make([]store.SourceInfo, 0, len(setKeys))
	for _, setKey := range setKeys {
		sourceID := strings.TrimPrefix(setKey, s.prefix+"src:")
		members, err := s.sourceChunkKeys(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			continue
		}
		fields, err := s.do(ctx, s.b().Hgetall().Key(members[0]).Build()).AsStrMap()
		if err != nil {
			return nil, fmt.Errorf("read source %s: %w: %w", sourceID, domain.ErrStoreUnavailable, err)
		}

		info := store.SourceInfo{
			SourceID: sourceID,
			Title:    fields["title"],
			Sender:   fields["sender"],
			Chunks:   len(members),
		}
		if ts, err := strconv.ParseInt(fields["ts"], 10, 64); err == nil {
			info.Timestamp = time.Unix(ts, 0).UTC()
		}
		infos = append(infos, info)
	}

	store.SortSources(infos)
	return infos, nil
}

// SourceChunks implements store.Store.
func (s *Store) SourceChunks(ctx context.Context, sourceID string) ([]domain.Chunk, error) {
	keys, err := s.sourceChunkKeys(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []domain.Chunk{}, nil
	}

	chunks := make([]domain.Chunk, 0, len(keys))
	for _, key := range keys {
		fields, err := s.do(ctx, s.b().Hgetall().Key(key).Build()).AsStrMap()
		if err != nil {
			return nil, fmt.Errorf("read chunk %s: %w: %w", key, domain.ErrStoreUnavailable, err)
		}
		if len(fields) == 0 {
			// Deleted between SMEMBERS and HGETALL.
			continue
		}
		chunk := s.chunkFromFields(key, fields)
		chunk.Vector = bytesToVector(fields["vector"])
		chunks = append(chunks, chunk)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// Stats implements store.Store. Chunk count comes from the index,
// source count from the per-source membership sets.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	cmd := s.b().Arbitrary("FT.SEARCH").Args(s.indexName(), "*", "LIMIT", "0", "0").Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return store.Stats{}, fmt.Errorf("count chunks: %w: %w", domain.ErrStoreUnavailable, err)
	}
	chunks := 0
	if len(raw) > 0 {
		if total, err := raw[0].AsInt64(); err == nil {
			chunks = int(total)
		}
	}

	sources, err := s.scan(ctx, s.prefix+"src:*")
	if err != nil {
		return store.Stats{}, err
	}

	return store.Stats{Documents: len(sources), Chunks: chunks}, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.do(ctx, s.b().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("ping: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for store: %w: %w", domain.ErrStoreUnavailable, ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

func (s *Store) sourceChunkKeys(ctx context.Context, sourceID string) ([]string, error) {
	cmd := s.b().Smembers().Key(s.sourceKey(sourceID)).Build()
	keys, err := s.do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("list chunks for %s: %w: %w", sourceID, domain.ErrStoreUnavailable, err)
	}
	return keys, nil
}

func (s *Store) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		cmd := s.b().Scan().Cursor(cursor).Match(pattern).Count(100).Build()
		res, err := s.do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w: %w", pattern, domain.ErrStoreUnavailable, err)
		}
		keys = append(keys, res.Elements...)
		cursor = res.Cursor
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

func (s *Store) lockSource(sourceID string) func() {
	s.muLocks.Lock()
	m, ok := s.writeLocks[sourceID]
	if !ok {
		m = &sync.Mutex{}
		s.writeLocks[sourceID] = m
	}
	s.muLocks.Unlock()

	m.Lock()
	return m.Unlock
}

func (s *Store) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return s.client.Do(ctx, cmd)
}

func (s *Store) b() rueidis.Builder {
	return s.client.B()
}

// isRedisErr checks if err is a Redis server error containing substr (case-insensitive).
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return containsIgnoreCase(re.Error(), substr)
}

func containsIgnoreCase(s, substr string) bool {
	ls := len(s)
	lsub := len(substr)
	if lsub > ls {
		return false
	}
	for i := 0; i <= ls-lsub; i++ {
		match := true
		for j := 0; j < lsub; j++ {
			sc := s[i+j]
			tc := substr[j]
			if sc >= 'A' && sc <= 'Z' {
				sc += 'a' - 'A'
			}
			if tc >= 'A' && tc <= 'Z' {
				tc += 'a' - 'A'
			}
			if sc != tc {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
