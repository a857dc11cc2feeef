package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gochi "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Triyansha/newsletter-rag/internal/chunker"
	"github.com/Triyansha/newsletter-rag/internal/classify"
	"github.com/Triyansha/newsletter-rag/internal/domain"
	"github.com/Triyansha/newsletter-rag/internal/domain/search/filter"
	"github.com/Triyansha/newsletter-rag/internal/domain/search/result"
	"github.com/Triyansha/newsletter-rag/internal/normalize"
	"github.com/Triyansha/newsletter-rag/internal/store"
	healthuc "github.com/Triyansha/newsletter-rag/internal/usecase/health"
	ingestuc "github.com/Triyansha/newsletter-rag/internal/usecase/ingest"
	queryuc "github.com/Triyansha/newsletter-rag/internal/usecase/query"
	statsuc "github.com/Triyansha/newsletter-rag/internal/usecase/stats"
)

// --- Mocks behind the usecase services ---

type acceptAllClassifier struct{}

func (acceptAllClassifier) Classify(_ *domain.RawMessage) classify.Decision {
	return classify.Decision{IsNewsletter: true, Confidence: 1}
}

type passNormalizer struct{}

func (passNormalizer) Normalize(msg *domain.RawMessage) (normalize.Document, error) {
	return normalize.Document{Title: msg.Subject, Text: msg.RawBody, WordCount: 10}, nil
}

type oneChunker struct{}

func (oneChunker) Chunk(text string, src chunker.Source) []domain.Chunk {
	return []domain.Chunk{{ID: domain.ChunkID(src.ID, 0), SourceID: src.ID, Text: text}}
}

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	if s.err != nil {
		return domain.EmbeddingResult{}, s.err
	}
	return domain.EmbeddingResult{Embedding: []float32{1, 0, 0}}, nil
}

func (s *stubEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if s.err != nil {
		return domain.BatchEmbeddingResult{}, s.err
	}
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i := range texts {
		out.Embeddings[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type stubWriter struct{}

func (stubWriter) ReplaceSource(_ context.Context, _ string, _ []domain.Chunk) error { return nil }

type stubSearcher struct {
	hits []result.Result
	err  error
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, k int, _ filter.Filter) ([]result.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.hits) > k {
		return s.hits[:k], nil
	}
	return s.hits, nil
}

type stubGenerator struct {
	err error
}

func (s *stubGenerator) Generate(_ context.Context, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "generated answer", nil
}

type stubStats struct {
	stats store.Stats
	infos []store.SourceInfo
	err   error
}

func (s *stubStats) Stats(_ context.Context) (store.Stats, error) { return s.stats, s.err }

func (s *stubStats) ListSources(_ context.Context) ([]store.SourceInfo, error) {
	return s.infos, s.err
}

type stubSourceReader struct {
	infos  []store.SourceInfo
	chunks map[string][]domain.Chunk
}

func (s *stubSourceReader) ListSources(_ context.Context) ([]store.SourceInfo, error) {
	return s.infos, nil
}

func (s *stubSourceReader) SourceChunks(_ context.Context, sourceID string) ([]domain.Chunk, error) {
	return s.chunks[sourceID], nil
}

type stubPinger struct {
	err error
}

func (s *stubPinger) Ping(_ context.Context) error { return s.err }

type deps struct {
	embedder  *stubEmbedder
	searcher  *stubSearcher
	sources   *stubSourceReader
	generator *stubGenerator
	stats     *stubStats
	pinger    *stubPinger
}

func newTestServer(t *testing.T, d deps) http.Handler {
	t.Helper()
	if d.embedder == nil {
		d.embedder = &stubEmbedder{}
	}
	if d.searcher == nil {
		d.searcher = &stubSearcher{}
	}
	if d.sources == nil {
		d.sources = &stubSourceReader{}
	}
	if d.generator == nil {
		d.generator = &stubGenerator{}
	}
	if d.stats == nil {
		d.stats = &stubStats{}
	}
	if d.pinger == nil {
		d.pinger = &stubPinger{}
	}

	ingest := ingestuc.New(acceptAllClassifier{}, passNormalizer{}, oneChunker{}, d.embedder, stubWriter{}, zap.NewNop())
	query := queryuc.New(d.embedder, d.searcher, d.sources, d.generator, queryuc.Config{}, zap.NewNop())
	stats := statsuc.New(d.stats)
	health := healthuc.New(d.pinger, nil)

	srv := NewServer(ingest, query, stats, health, zap.NewNop())
	r := gochi.NewRouter()
	srv.Routes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("response not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, parsed
}

// --- Tests ---

func TestSync_OK(t *testing.T) {
	h := newTestServer(t, deps{})

	body := `{"messages":[
		{"source_id":"m1","sender":"news@example.org","subject":"Weekly","raw_body":"hello world"},
		{"source_id":"m2","sender":"news@example.org","subject":"Daily","raw_body":"more text"}
	]}`
	rec, resp := doJSON(t, h, http.MethodPost, "/v1/sync", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := resp["ingested"].(float64); got != 2 {
		t.Errorf("ingested = %v", got)
	}
	items := resp["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("items = %d", len(items))
	}
	first := items[0].(map[string]any)
	if first["source_id"] != "m1" || first["status"] != "ingested" {
		t.Errorf("item[0] = %v", first)
	}
}

func TestSync_EmptyMessages(t *testing.T) {
	h := newTestServer(t, deps{})

	rec, resp := doJSON(t, h, http.MethodPost, "/v1/sync", `{"messages":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["code"] != "validation_failed" {
		t.Errorf("code = %v", resp["code"])
	}
}

func TestSync_MalformedBody(t *testing.T) {
	h := newTestServer(t, deps{})

	rec, resp := doJSON(t, h, http.MethodPost, "/v1/sync", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["code"] != "bad_request" {
		t.Errorf("code = %v", resp["code"])
	}
}

func TestQuery_OK(t *testing.T) {
	se := &stubSearcher{hits: []result.Result{
		result.New(domain.Chunk{SourceID: "m1", Title: "Weekly", Sender: "news@example.org", Text: "chunk text"}, 0.9),
	}}
	h := newTestServer(t, deps{searcher: se})

	rec, resp := doJSON(t, h, http.MethodPost, "/v1/query", `{"question":"what happened?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if resp["answer"] != "generated answer" {
		t.Errorf("answer = %v", resp["answer"])
	}
	if resp["grounded"] != true {
		t.Error("expected grounded")
	}
	citations := resp["citations"].([]any)
	if len(citations) != 1 {
		t.Fatalf("citations = %d", len(citations))
	}
	c := citations[0].(map[string]any)
	if c["source_id"] != "m1" || c["score"].(float64) != 0.9 {
		t.Errorf("citation = %v", c)
	}
}

func TestQuery_MissingQuestion(t *testing.T) {
	h := newTestServer(t, deps{})

	rec, resp := doJSON(t, h, http.MethodPost, "/v1/query", `{"k":3}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["code"] != "validation_failed" {
		t.Errorf("code = %v", resp["code"])
	}
}

func TestQuery_InvertedDateRange(t *testing.T) {
	h := newTestServer(t, deps{})

	body := `{"question":"q","after":"2026-03-01T00:00:00Z","before":"2026-01-01T00:00:00Z"}`
	rec, resp := doJSON(t, h, http.MethodPost, "/v1/query", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["code"] != "validation_failed" {
		t.Errorf("code = %v", resp["code"])
	}
}

func TestQuery_EmbeddingDown(t *testing.T) {
	h := newTestServer(t, deps{embedder: &stubEmbedder{err: domain.ErrEmbeddingUnavailable}})

	rec, resp := doJSON(t, h, http.MethodPost, "/v1/query", `{"question":"q"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["code"] != "temporarily_unavailable" {
		t.Errorf("code = %v", resp["code"])
	}
}

func TestQuery_GenerationDown(t *testing.T) {
	se := &stubSearcher{hits: []result.Result{result.New(domain.Chunk{SourceID: "m1", Text: "t"}, 0.9)}}
	h := newTestServer(t, deps{searcher: se, generator: &stubGenerator{err: domain.ErrGenerationUnavailable}})

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/query", `{"question":"q"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStats_OK(t *testing.T) {
	h := newTestServer(t, deps{stats: &stubStats{stats: store.Stats{Documents: 4, Chunks: 19}}})

	rec, resp := doJSON(t, h, http.MethodGet, "/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["document_count"].(float64) != 4 || resp["chunk_count"].(float64) != 19 {
		t.Errorf("stats = %v", resp)
	}
}

func TestStats_StoreDown(t *testing.T) {
	h := newTestServer(t, deps{stats: &stubStats{err: domain.ErrStoreUnavailable}})

	rec, resp := doJSON(t, h, http.MethodGet, "/v1/stats", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["code"] != "temporarily_unavailable" {
		t.Errorf("code = %v", resp["code"])
	}
}

func TestNewsletters_OK(t *testing.T) {
	ts := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	h := newTestServer(t, deps{stats: &stubStats{infos: []store.SourceInfo{
		{SourceID: "m1", Title: "Weekly", Sender: "news@example.org", Timestamp: ts, Chunks: 3},
	}}})

	rec, resp := doJSON(t, h, http.MethodGet, "/v1/newsletters", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	items := resp["newsletters"].([]any)
	if len(items) != 1 {
		t.Fatalf("newsletters = %d", len(items))
	}
	item := items[0].(map[string]any)
	if item["source_id"] != "m1" || item["date"] != "2026-08-20" || item["chunk_count"].(float64) != 3 {
		t.Errorf("item = %v", item)
	}
}

func TestSummarize_OK(t *testing.T) {
	sr := &stubSourceReader{chunks: map[string][]domain.Chunk{
		"m1": {{ID: domain.ChunkID("m1", 0), SourceID: "m1", Title: "Weekly", Sender: "news@example.org", Text: "issue text", End: 10}},
	}}
	h := newTestServer(t, deps{sources: sr})

	rec, resp := doJSON(t, h, http.MethodPost, "/v1/summarize", `{"source_id":"m1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if resp["answer"] != "generated answer" || resp["grounded"] != true {
		t.Errorf("resp = %v", resp)
	}
	citations := resp["citations"].([]any)
	if len(citations) != 1 || citations[0].(map[string]any)["source_id"] != "m1" {
		t.Errorf("citations = %v", citations)
	}
}

func TestSummarize_UnknownSource(t *testing.T) {
	h := newTestServer(t, deps{})

	rec, resp := doJSON(t, h, http.MethodPost, "/v1/summarize", `{"source_id":"nope"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["code"] != "not_found" {
		t.Errorf("code = %v", resp["code"])
	}
}

func TestSummarize_MissingSourceID(t *testing.T) {
	h := newTestServer(t, deps{})

	rec, resp := doJSON(t, h, http.MethodPost, "/v1/summarize", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["code"] != "validation_failed" {
		t.Errorf("code = %v", resp["code"])
	}
}

func TestRelated_OK(t *testing.T) {
	sr := &stubSourceReader{chunks: map[string][]domain.Chunk{
		"m1": {{ID: domain.ChunkID("m1", 0), SourceID: "m1", Text: "origin", Vector: []float32{1, 0, 0}, End: 6}},
	}}
	se := &stubSearcher{hits: []result.Result{
		result.New(domain.Chunk{SourceID: "m1", Text: "origin"}, 0.99),
		result.New(domain.Chunk{SourceID: "m2", Title: "Other", Sender: "b@x.org", Text: "similar"}, 0.9),
	}}
	h := newTestServer(t, deps{sources: sr, searcher: se})

	rec, resp := doJSON(t, h, http.MethodPost, "/v1/related", `{"source_id":"m1","k":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	related := resp["related"].([]any)
	if len(related) != 1 {
		t.Fatalf("related = %d", len(related))
	}
	item := related[0].(map[string]any)
	if item["source_id"] != "m2" || item["score"].(float64) != 0.9 {
		t.Errorf("item = %v", item)
	}
}

func TestDigest_DefaultWindow(t *testing.T) {
	sr := &stubSourceReader{
		infos: []store.SourceInfo{
			{SourceID: "m1", Title: "Weekly", Sender: "news@example.org", Timestamp: time.Now().AddDate(0, 0, -1), Chunks: 1},
		},
		chunks: map[string][]domain.Chunk{
			"m1": {{ID: domain.ChunkID("m1", 0), SourceID: "m1", Title: "Weekly", Text: "recent content", End: 14}},
		},
	}
	h := newTestServer(t, deps{sources: sr})

	// Empty body means the last 7 days.
	rec, resp := doJSON(t, h, http.MethodPost, "/v1/digest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if resp["grounded"] != true {
		t.Errorf("resp = %v", resp)
	}
	if citations := resp["citations"].([]any); len(citations) != 1 {
		t.Errorf("citations = %v", citations)
	}
}

func TestTopics_InvertedWindow(t *testing.T) {
	h := newTestServer(t, deps{})

	body := `{"after":"2026-03-01T00:00:00Z","before":"2026-01-01T00:00:00Z"}`
	rec, resp := doJSON(t, h, http.MethodPost, "/v1/topics", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["code"] != "validation_failed" {
		t.Errorf("code = %v", resp["code"])
	}
}

func TestHealthCheck_OK(t *testing.T) {
	h := newTestServer(t, deps{})

	rec, resp := doJSON(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v", resp["status"])
	}
}

func TestHealthCheck_Degraded(t *testing.T) {
	h := newTestServer(t, deps{pinger: &stubPinger{err: domain.ErrStoreUnavailable}})

	rec, resp := doJSON(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["status"] != "degraded" {
		t.Errorf("status = %v", resp["status"])
	}
	checks := resp["checks"].(map[string]any)
	if checks["store"] != "error" {
		t.Errorf("checks = %v", checks)
	}
}
