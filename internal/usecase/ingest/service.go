// Package ingest orchestrates the sync pipeline: classify, normalize,
// chunk, embed, store, with per-message outcomes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Triyansha/newsletter-rag/internal/chunker"
	"github.com/Triyansha/newsletter-rag/internal/domain"
	"github.com/Triyansha/newsletter-rag/internal/domain/batch"
	"github.com/Triyansha/newsletter-rag/internal/metrics"
)

// MaxBatchSize is the default cap on messages per sync request.
const MaxBatchSize = 200

// Report summarizes one sync run.
type Report struct {
	Ingested int
	Skipped  int
	Failed   int
	Items    []batch.Result
}

// Service runs the ingestion pipeline over a batch of raw messages.
// One message failing never aborts the others.
type Service struct {
	classifier Classifier
	normalizer Normalizer
	chunker    Chunker
	embedder   domain.BatchEmbedder
	writer     ChunkWriter

	workers      int
	maxBatchSize int
	logger       *zap.Logger
}

// New creates an ingest service.
func New(
	classifier Classifier, normalizer Normalizer, chunk Chunker,
	embedder domain.BatchEmbedder, writer ChunkWriter, logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		classifier: classifier, normalizer: normalizer, chunker: chunk,
		embedder: embedder, writer: writer,
		workers: 4, maxBatchSize: MaxBatchSize,
		logger: logger,
	}
}

// WithWorkers configures pipeline concurrency.
func (s *Service) WithWorkers(n int) *Service {
	if n > 0 {
		s.workers = n
	}
	return s
}

// WithMaxBatchSize configures the per-request message cap.
func (s *Service) WithMaxBatchSize(n int) *Service {
	if n > 0 {
		s.maxBatchSize = n
	}
	return s
}

// Sync processes messages concurrently and reports a per-message
// outcome in input order. When the batch repeats a source ID, the last
// occurrence wins and earlier ones are skipped.
func (s *Service) Sync(ctx context.Context, msgs []domain.RawMessage) (Report, error) {
	if len(msgs) > s.maxBatchSize {
		return Report{}, fmt.Errorf("batch size %d exceeds %d: %w",
			len(msgs), s.maxBatchSize, domain.ErrInvalidConfig)
	}

	lastIdx := make(map[string]int, len(msgs))
	for i, m := range msgs {
		lastIdx[m.SourceID] = i
	}

	items := make([]batch.Result, len(msgs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.workers)

	for i := range msgs {
		if lastIdx[msgs[i].SourceID] != i {
			items[i] = batch.NewSkipped(msgs[i].SourceID, "superseded by later message in batch")
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			items[i] = s.processOne(ctx, &msgs[i])
		}(i)
	}
	wg.Wait()

	ingested, skipped, failed := batch.Tally(items)
	for _, item := range items {
		metrics.DocumentsIngestedTotal.WithLabelValues(string(item.Status())).Inc()
	}

	s.logger.Info("sync finished",
		zap.Int("messages", len(msgs)),
		zap.Int("ingested", ingested),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	return Report{Ingested: ingested, Skipped: skipped, Failed: failed, Items: items}, nil
}

func (s *Service) processOne(ctx context.Context, msg *domain.RawMessage) batch.Result {
	if msg.SourceID == "" {
		return batch.NewFailed("", errors.New("missing source_id"))
	}

	decision := s.classifier.Classify(msg)
	if !decision.IsNewsletter {
		reason := "not a newsletter"
		if len(decision.Reasons) > 0 {
			reason += ": " + strings.Join(decision.Reasons, ", ")
		}
		return batch.NewSkipped(msg.SourceID, reason)
	}

	doc, err := s.normalizer.Normalize(msg)
	if err != nil {
		if errors.Is(err, domain.ErrExtraction) {
			return batch.NewSkipped(msg.SourceID, "no extractable content")
		}
		return batch.NewFailed(msg.SourceID, fmt.Errorf("normalize: %w", err))
	}

	chunks := s.chunker.Chunk(doc.Text, chunker.Source{
		ID:        msg.SourceID,
		Sender:    msg.SenderAddress(),
		Title:     doc.Title,
		Timestamp: msg.Timestamp,
	})
	if len(chunks) == 0 {
		return batch.NewSkipped(msg.SourceID, "no chunks produced")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	res, err := s.embedder.BatchEmbed(ctx, texts)
	if err != nil {
		return batch.NewFailed(msg.SourceID, fmt.Errorf("embed: %w", err))
	}
	if len(res.Embeddings) != len(chunks) {
		return batch.NewFailed(msg.SourceID, fmt.Errorf(
			"embedder returned %d vectors for %d chunks", len(res.Embeddings), len(chunks)))
	}
	for i := range chunks {
		chunks[i].Vector = res.Embeddings[i]
	}

	if err := s.writer.ReplaceSource(ctx, msg.SourceID, chunks); err != nil {
		return batch.NewFailed(msg.SourceID, fmt.Errorf("store: %w", err))
	}

	metrics.ChunksStoredTotal.Add(float64(len(chunks)))
	s.logger.Debug("message ingested",
		zap.String("source_id", msg.SourceID),
		zap.Int("chunks", len(chunks)),
		zap.Int("tokens", res.TotalTokens),
		zap.Float64("confidence", decision.Confidence),
	)

	return batch.NewIngested(msg.SourceID)
}
