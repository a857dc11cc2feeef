// Package openai adapts an OpenAI-compatible API into the engine's
// embedding and generation contracts.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Triyansha/newsletter-rag/internal/domain"
	"github.com/Triyansha/newsletter-rag/internal/metrics"
)

// Embedder is the embedding gateway: it batches inputs up to the provider
// batch limit and retries transient failures with exponential backoff.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	batchSize  int
	maxRetries int
	timeout    time.Duration
	backoff    time.Duration
	logger     *zap.Logger
}

// EmbedderConfig holds the embedding provider settings.
type EmbedderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int
	MaxRetries int
	Timeout    time.Duration
	Logger     *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding gateway.
func NewEmbedder(cfg *EmbedderConfig) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	e := &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		backoff:    500 * time.Millisecond,
		logger:     cfg.Logger,
	}
	if e.batchSize <= 0 {
		e.batchSize = 64
	}
	if e.maxRetries <= 0 {
		e.maxRetries = 3
	}
	if e.timeout <= 0 {
		e.timeout = 30 * time.Second
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Embed implements domain.Embedder for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:   res.Embeddings[0],
		TotalTokens: res.TotalTokens,
	}, nil
}

// BatchEmbed implements domain.BatchEmbedder: one vector per input, same
// order. Inputs beyond the provider batch limit are split into multiple
// requests; a failed request fails the whole call with
// domain.ErrEmbeddingUnavailable after retries are exhausted.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, 0, len(texts))}
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, tokens, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return domain.BatchEmbeddingResult{}, err
		}
		out.Embeddings = append(out.Embeddings, vectors...)
		out.TotalTokens += tokens
	}
	return out, nil
}

// embedBatch sends one provider request with bounded retries.
func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	var lastErr error
	delay := e.backoff

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		vectors, tokens, err := e.doRequest(ctx, req, len(texts))
		if err == nil {
			return vectors, tokens, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isTransient(err) {
			break
		}
		if attempt < e.maxRetries {
			metrics.EmbeddingRetriesTotal.WithLabelValues(string(e.model)).Inc()
			e.logger.Warn("embedding request failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil, 0, fmt.Errorf("embed canceled: %w: %w", domain.ErrEmbeddingUnavailable, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return nil, 0, fmt.Errorf("embedding failed after %d attempts: %w: %w",
		e.maxRetries, domain.ErrEmbeddingUnavailable, lastErr)
}

func (e *Embedder) doRequest(ctx context.Context, req openai.EmbeddingRequest, want int) ([][]float32, int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "error").Inc()
		return nil, 0, err
	}
	if len(resp.Data) != want {
		metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "error").Inc()
		return nil, 0, fmt.Errorf("expected %d embeddings, got %d", want, len(resp.Data))
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(string(e.model)).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(string(e.model)).Add(float64(resp.Usage.TotalTokens))
	}

	// The API documents index-ordered data; honor the index field anyway.
	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, 0, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if e.dimensions > 0 && len(d.Embedding) != e.dimensions {
			return nil, 0, fmt.Errorf("provider returned %d-dim vector, want %d", len(d.Embedding), e.dimensions)
		}
		vectors[d.Index] = d.Embedding
	}

	return vectors, resp.Usage.TotalTokens, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// isTransient reports whether an API error is worth retrying:
// rate limits, server-side failures, and transport errors.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	// Non-API errors are network-level failures.
	return true
}
