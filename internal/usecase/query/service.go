// Package query answers questions over the stored newsletter corpus:
// embed the question, retrieve similar chunks, generate a grounded
// answer with citations.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Triyansha/newsletter-rag/internal/domain"
	"github.com/Triyansha/newsletter-rag/internal/domain/search/filter"
	"github.com/Triyansha/newsletter-rag/internal/domain/search/result"
	"github.com/Triyansha/newsletter-rag/internal/metrics"
)

const systemPrompt = `You are an intelligent newsletter analyst and research assistant. Your job is to help users extract valuable insights from their newsletter subscriptions.

## RESPONSE GUIDELINES:

### Be Specific & Accurate
- Always cite which newsletter each piece of information comes from
- Include specific dates, numbers, names, and facts when available

### Be Insightful
- Don't just repeat information, analyze and synthesize it
- Connect related ideas across different newsletters

### Be Honest
- If the newsletters don't contain relevant information, say so clearly
- Distinguish between facts stated in newsletters vs. your interpretations

### Format Well
- Use bullet points for multiple items
- Start with the most important information`

const summarizePrompt = `You are an intelligent newsletter analyst. Summarize the newsletter below.

## RESPONSE GUIDELINES:
- Lead with the single most important story or insight
- Use bullet points for the remaining items
- Keep specific numbers, dates, and names
- Stay under 200 words`

const digestPrompt = `You are an intelligent newsletter analyst. Write a digest of the newsletters below.

## RESPONSE GUIDELINES:
- Group related stories across newsletters
- Lead with the most significant developments
- Cite which newsletter each item comes from
- Use bullet points, keep it scannable`

const topicsPrompt = `You are an intelligent newsletter analyst. List the main topics covered by the newsletters below.

## RESPONSE GUIDELINES:
- One bullet per topic, most prominent first
- A few words per topic, no commentary
- Merge near-duplicate topics`

const emptyContext = "No relevant newsletter content found."

// Request is one question with its optional retrieval constraints.
type Request struct {
	Question string
	TopK     int
	Filter   filter.Filter
}

// Citation points an answer back at a stored chunk.
type Citation struct {
	SourceID  string
	Title     string
	Sender    string
	Timestamp time.Time
	Score     float64
	Snippet   string
}

// Response is a generated answer with its supporting chunks. Grounded
// is false when no stored content backed the answer.
type Response struct {
	Answer    string
	Grounded  bool
	Citations []Citation
}

// Service is the RAG query engine.
type Service struct {
	embedder  domain.Embedder
	searcher  Searcher
	sources   SourceReader
	generator domain.Generator

	topK       int
	maxTopK    int
	charBudget int
	minScore   float64
	logger     *zap.Logger
}

// Config holds the query engine tunables.
type Config struct {
	TopK              int
	MaxTopK           int
	ContextCharBudget int
	MinScore          float64
}

// New creates a query service.
func New(embedder domain.Embedder, searcher Searcher, sources SourceReader, generator domain.Generator, cfg Config, logger *zap.Logger) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = 50
	}
	if cfg.ContextCharBudget <= 0 {
		cfg.ContextCharBudget = 12000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		embedder: embedder, searcher: searcher, sources: sources, generator: generator,
		topK: cfg.TopK, maxTopK: cfg.MaxTopK,
		charBudget: cfg.ContextCharBudget, minScore: cfg.MinScore,
		logger: logger,
	}
}

// Answer runs the full retrieval and generation pipeline. Zero hits
// still produce an answer, marked ungrounded.
func (s *Service) Answer(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Response{}, errors.New("question is required")
	}

	start := time.Now()
	defer func() {
		metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}()

	k := req.TopK
	if k <= 0 {
		k = s.topK
	}
	if k > s.maxTopK {
		k = s.maxTopK
	}

	emb, err := s.embedder.Embed(ctx, req.Question)
	if err != nil {
		return Response{}, fmt.Errorf("embed question: %w", err)
	}

	hits, err := s.searcher.Search(ctx, emb.Embedding, k, req.Filter)
	if err != nil {
		return Response{}, fmt.Errorf("search: %w", err)
	}

	used := s.selectContext(hits)
	prompt := buildPrompt(req.Question, formatContext(used))

	answer, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return Response{}, fmt.Errorf("generate: %w", err)
	}

	citations := make([]Citation, len(used))
	for i := range used {
		c := used[i].Chunk()
		citations[i] = Citation{
			SourceID:  c.SourceID,
			Title:     c.Title,
			Sender:    c.Sender,
			Timestamp: c.Timestamp,
			Score:     used[i].Score(),
			Snippet:   snippet(c.Text),
		}
	}

	s.logger.Debug("query answered",
		zap.Int("k", k),
		zap.Int("hits", len(hits)),
		zap.Int("cited", len(used)),
		zap.Duration("duration", time.Since(start)),
	)

	return Response{
		Answer:    answer,
		Grounded:  len(used) > 0,
		Citations: citations,
	}, nil
}

// Summarize generates a standalone summary of one stored newsletter.
func (s *Service) Summarize(ctx context.Context, sourceID string) (Response, error) {
	if strings.TrimSpace(sourceID) == "" {
		return Response{}, errors.New("source id is required")
	}

	chunks, err := s.sources.SourceChunks(ctx, sourceID)
	if err != nil {
		return Response{}, fmt.Errorf("load source: %w", err)
	}
	if len(chunks) == 0 {
		return Response{}, fmt.Errorf("source %s: %w", sourceID, domain.ErrSourceNotFound)
	}

	head := chunks[0]
	text := []rune(reconstruct(chunks))
	if len(text) > s.charBudget {
		text = text[:s.charBudget]
	}

	prompt := fmt.Sprintf("%s\n\n=== NEWSLETTER ===\n\n**%s**\nFrom: %s\nDate: %s\n\n%s\n\n=== YOUR RESPONSE ===\n",
		summarizePrompt, head.Title, head.Sender, formatDate(head.Timestamp), string(text))

	answer, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return Response{}, fmt.Errorf("generate: %w", err)
	}

	s.logger.Debug("newsletter summarized",
		zap.String("source_id", sourceID),
		zap.Int("chunks", len(chunks)),
	)

	return Response{
		Answer:   answer,
		Grounded: true,
		Citations: []Citation{{
			SourceID:  head.SourceID,
			Title:     head.Title,
			Sender:    head.Sender,
			Timestamp: head.Timestamp,
			Score:     1,
			Snippet:   snippet(head.Text),
		}},
	}, nil
}

// Related is a source ranked by similarity to another source.
type Related struct {
	SourceID  string
	Title     string
	Sender    string
	Timestamp time.Time
	Score     float64
}

// FindRelated returns up to k sources similar to the given one, best
// match first. The source's opening chunk serves as the query vector.
func (s *Service) FindRelated(ctx context.Context, sourceID string, k int) ([]Related, error) {
	if k <= 0 {
		k = s.topK
	}
	if k > s.maxTopK {
		k = s.maxTopK
	}

	chunks, err := s.sources.SourceChunks(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("source %s: %w", sourceID, domain.ErrSourceNotFound)
	}
	vector := chunks[0].Vector
	if len(vector) == 0 {
		return nil, fmt.Errorf("source %s has no stored vector", sourceID)
	}

	// The source's own chunks rank first, so fetch enough extra hits to
	// survive dropping them.
	hits, err := s.searcher.Search(ctx, vector, k+len(chunks), filter.Filter{})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	seen := make(map[string]bool, len(hits))
	related := make([]Related, 0, k)
	for i := range hits {
		c := hits[i].Chunk()
		if c.SourceID == sourceID || seen[c.SourceID] {
			continue
		}
		seen[c.SourceID] = true
		related = append(related, Related{
			SourceID:  c.SourceID,
			Title:     c.Title,
			Sender:    c.Sender,
			Timestamp: c.Timestamp,
			Score:     hits[i].Score(),
		})
		if len(related) == k {
			break
		}
	}
	return related, nil
}

// Digest summarizes every newsletter received in [since, until). A zero
// until leaves the window open-ended.
func (s *Service) Digest(ctx context.Context, since, until time.Time) (Response, error) {
	return s.windowed(ctx, digestPrompt, since, until)
}

// Topics lists the dominant topics across newsletters in [since, until).
func (s *Service) Topics(ctx context.Context, since, until time.Time) (Response, error) {
	return s.windowed(ctx, topicsPrompt, since, until)
}

func (s *Service) windowed(ctx context.Context, instruction string, since, until time.Time) (Response, error) {
	contextText, citations, err := s.gatherWindow(ctx, since, until)
	if err != nil {
		return Response{}, err
	}
	if contextText == "" {
		contextText = emptyContext
	}

	prompt := fmt.Sprintf("%s\n\n=== NEWSLETTERS ===\n\n%s\n\n=== YOUR RESPONSE ===\n", instruction, contextText)
	answer, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return Response{}, fmt.Errorf("generate: %w", err)
	}

	return Response{
		Answer:    answer,
		Grounded:  len(citations) > 0,
		Citations: citations,
	}, nil
}

// gatherWindow collects newsletter text newest-first until the character
// budget is spent, truncating the last included source rather than
// dropping it.
func (s *Service) gatherWindow(ctx context.Context, since, until time.Time) (string, []Citation, error) {
	infos, err := s.sources.ListSources(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("list sources: %w", err)
	}

	remaining := s.charBudget
	var parts []string
	var citations []Citation

	for _, info := range infos {
		if !since.IsZero() && info.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && !info.Timestamp.Before(until) {
			continue
		}
		if remaining <= 0 {
			break
		}

		chunks, err := s.sources.SourceChunks(ctx, info.SourceID)
		if err != nil {
			return "", nil, fmt.Errorf("load source %s: %w", info.SourceID, err)
		}
		if len(chunks) == 0 {
			continue
		}

		text := []rune(reconstruct(chunks))
		if len(text) > remaining {
			text = text[:remaining]
		}
		remaining -= len(text)

		parts = append(parts, fmt.Sprintf("---\n**%s**\nFrom: %s\nDate: %s\n\n%s\n---",
			info.Title, info.Sender, formatDate(info.Timestamp), string(text)))
		citations = append(citations, Citation{
			SourceID:  info.SourceID,
			Title:     info.Title,
			Sender:    info.Sender,
			Timestamp: info.Timestamp,
			Score:     1,
			Snippet:   snippet(chunks[0].Text),
		})
	}

	return strings.Join(parts, "\n\n"), citations, nil
}

// reconstruct rebuilds the normalized document text from its overlapping
// chunks, using the rune offsets to strip repeated overlap.
func reconstruct(chunks []domain.Chunk) string {
	var b strings.Builder
	covered := 0
	for _, c := range chunks {
		runes := []rune(c.Text)
		if skip := covered - c.Start; skip > 0 {
			if skip >= len(runes) {
				continue
			}
			runes = runes[skip:]
		}
		b.WriteString(string(runes))
		if c.End > covered {
			covered = c.End
		}
	}
	return b.String()
}

// selectContext keeps hits above the score floor, in descending score
// order, until the character budget is spent. The top hit is always
// kept even when it alone exceeds the budget.
func (s *Service) selectContext(hits []result.Result) []result.Result {
	var used []result.Result
	remaining := s.charBudget

	for i := range hits {
		if hits[i].Score() < s.minScore {
			continue
		}
		cost := len(hits[i].Chunk().Text)
		if len(used) > 0 && cost > remaining {
			continue
		}
		used = append(used, hits[i])
		remaining -= cost
	}
	return used
}

func formatContext(used []result.Result) string {
	if len(used) == 0 {
		return emptyContext
	}

	parts := make([]string, len(used))
	for i := range used {
		c := used[i].Chunk()
		parts[i] = fmt.Sprintf("---\n**Source %d: %s**\nFrom: %s\nDate: %s\n\n%s\n---",
			i+1, c.Title, c.Sender, formatDate(c.Timestamp), c.Text)
	}
	return strings.Join(parts, "\n\n")
}

func formatDate(ts time.Time) string {
	if ts.IsZero() {
		return "Unknown date"
	}
	return ts.Format("2006-01-02")
}

func buildPrompt(question, context string) string {
	return fmt.Sprintf(`%s

=== NEWSLETTER CONTEXT ===

%s

=== USER QUESTION ===

%s

=== YOUR RESPONSE ===

Provide a helpful, accurate answer based on the newsletter content above. Remember to cite your sources.`,
		systemPrompt, context, question)
}

// snippet trims chunk text to a citation-sized preview, counting runes
// so multibyte text is never cut mid-character.
func snippet(text string) string {
	const maxLen = 200
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	cut := maxLen
	for cut > 0 && runes[cut] != ' ' {
		cut--
	}
	if cut == 0 {
		cut = maxLen
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}
