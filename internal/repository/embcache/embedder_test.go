package embcache

import (
	"context"
	"errors"
	"testing"

	"github.com/Triyansha/newsletter-rag/internal/domain"
)

type mockBatchEmbedder struct {
	calls     int
	lastTexts []string
	err       error
}

func (m *mockBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.calls++
	m.lastTexts = texts
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts)), TotalTokens: len(texts) * 10}
	for i, text := range texts {
		out.Embeddings[i] = []float32{float32(len(text)), 0, 0}
	}
	return out, nil
}

func TestBatchEmbed_CachesResults(t *testing.T) {
	inner := &mockBatchEmbedder{}
	c, err := New(inner, 16, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := c.BatchEmbed(context.Background(), []string{"aa", "bbb"})
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 inner call, got %d", inner.calls)
	}

	second, err := c.BatchEmbed(context.Background(), []string{"aa", "bbb"})
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected cache hits, got %d inner calls", inner.calls)
	}
	if second.TotalTokens != 0 {
		t.Errorf("cache hits should report zero tokens, got %d", second.TotalTokens)
	}
	for i := range first.Embeddings {
		if first.Embeddings[i][0] != second.Embeddings[i][0] {
			t.Errorf("embedding %d differs between calls", i)
		}
	}
}

// A partially cached batch must send only the misses, in input order.
func TestBatchEmbed_PartialHit(t *testing.T) {
	inner := &mockBatchEmbedder{}
	c, err := New(inner, 16, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.BatchEmbed(context.Background(), []string{"aa"}); err != nil {
		t.Fatalf("warm-up: %v", err)
	}

	out, err := c.BatchEmbed(context.Background(), []string{"xxxx", "aa", "yyyyy"})
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 inner calls, got %d", inner.calls)
	}
	if len(inner.lastTexts) != 2 || inner.lastTexts[0] != "xxxx" || inner.lastTexts[1] != "yyyyy" {
		t.Errorf("expected only misses forwarded, got %v", inner.lastTexts)
	}

	// Vectors must land at the original input positions.
	wantLens := []float32{4, 2, 5}
	for i, want := range wantLens {
		if out.Embeddings[i][0] != want {
			t.Errorf("embedding %d: got %g, want %g", i, out.Embeddings[i][0], want)
		}
	}
}

func TestBatchEmbed_InnerErrorPropagates(t *testing.T) {
	inner := &mockBatchEmbedder{err: domain.ErrEmbeddingUnavailable}
	c, err := New(inner, 16, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.BatchEmbed(context.Background(), []string{"text"})
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Errorf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestEmbed_UsesCache(t *testing.T) {
	inner := &mockBatchEmbedder{}
	c, err := New(inner, 16, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if _, err := c.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.calls)
	}
}
